// Package server provides the dashboard's HTTP surface: the HTML dashboard,
// the widget retry and refresh actions, and a small JSON API for widgets,
// the error history and stored tokens.
package server

import (
	"time"

	"github.com/p-blackswan/dashboard/internal/errlog"
	"github.com/p-blackswan/dashboard/internal/widget"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// WidgetsResponse is returned by GET /api/v1/widgets.
type WidgetsResponse struct {
	Title   string        `json:"title"`
	Failed  int           `json:"failed"`
	Widgets []widget.View `json:"widgets"`
}

// RetryResponse is returned by the retry action for JSON clients.
type RetryResponse struct {
	ID      string `json:"id"`
	Retried bool   `json:"retried"`
}

// ErrorsResponse is returned by GET /api/v1/errors.
type ErrorsResponse struct {
	Capacity int            `json:"capacity"`
	Errors   []errlog.Entry `json:"errors"`
}

// TokenRequest is the body of PUT /api/v1/tokens/:service. Either Token or
// JWT is set. A nil LifetimeSeconds uses the configured default.
type TokenRequest struct {
	Token           string `json:"token"`
	LifetimeSeconds *int64 `json:"lifetimeSeconds,omitempty"`
	JWT             string `json:"jwt"`
}

// TokenStatus reports whether a usable token exists. The token itself is
// never returned.
type TokenStatus struct {
	Service string `json:"service"`
	Valid   bool   `json:"valid"`
}

// dashboardPage is the template data for GET /.
type dashboardPage struct {
	Title       string
	Widgets     []widget.View
	GeneratedAt time.Time
}
