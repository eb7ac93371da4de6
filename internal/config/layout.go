package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRefreshInterval applies to widgets that do not set refresh.
const DefaultRefreshInterval = 5 * time.Minute

// WidgetSpec describes one widget in the layout file.
type WidgetSpec struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	// URL is the JSON feed the widget renders.
	URL string `yaml:"url"`
	// Service names the token used for Authorization. Empty means anonymous.
	Service string        `yaml:"service"`
	Refresh time.Duration `yaml:"refresh"`
	Timeout time.Duration `yaml:"timeout"`
	// Limit caps the items shown. Zero shows all.
	Limit int `yaml:"limit"`
}

// Layout is the ordered set of widgets on the dashboard.
type Layout struct {
	Title   string       `yaml:"title"`
	Widgets []WidgetSpec `yaml:"widgets"`
}

// LoadLayout reads and validates the YAML layout at path.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes a YAML layout and fills defaults.
func ParseLayout(data []byte) (*Layout, error) {
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	if layout.Title == "" {
		layout.Title = "Dashboard"
	}

	seen := make(map[string]bool, len(layout.Widgets))
	for i := range layout.Widgets {
		w := &layout.Widgets[i]
		if w.ID == "" {
			return nil, fmt.Errorf("widget %d: id is required", i)
		}
		if seen[w.ID] {
			return nil, fmt.Errorf("widget %q: duplicate id", w.ID)
		}
		seen[w.ID] = true
		if w.URL == "" {
			return nil, fmt.Errorf("widget %q: url is required", w.ID)
		}
		if w.Title == "" {
			w.Title = w.ID
		}
		if w.Refresh <= 0 {
			w.Refresh = DefaultRefreshInterval
		}
	}
	return &layout, nil
}
