package errors

import (
	"errors"
	"strings"
)

// Category buckets a failure for reporting.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryValidation     Category = "validation"
	CategoryWidget         Category = "widget"
	CategoryStorage        Category = "storage"
	CategoryUnknown        Category = "unknown"
)

// Signal is the structured input to Classify. Callers adapt their native error
// into a Signal at the boundary; SignalFromError does this for Go errors.
type Signal struct {
	Message string
	Status  int
	Context map[string]any
}

var keywordRules = []struct {
	category Category
	keywords []string
}{
	{CategoryAuthentication, []string{"unauthorized", "unauthenticated", "authentication", "forbidden", "token expired", "expired token", "invalid token", "re-authenticate", "login required"}},
	{CategoryStorage, []string{"quota", "storage", "serializ", "deserializ", "corrupt", "localstorage", "disk full"}},
	{CategoryNetwork, []string{"network", "timeout", "timed out", "connection", "econnrefused", "econnreset", "dns", "unreachable", "fetch failed", "failed to fetch", "service unavailable", "bad gateway", "rate limit"}},
	{CategoryValidation, []string{"validation", "invalid", "required", "malformed", "must be", "out of range"}},
}

// Classify assigns a Category using the status code first, then keywords in
// the message and the context's "error" value. A widgetId in the context
// yields CategoryWidget only when nothing more specific matched.
func Classify(s Signal) Category {
	if c, ok := classifyStatus(s.Status); ok {
		return c
	}

	text := strings.ToLower(s.Message)
	if str, ok := s.Context["error"].(string); ok {
		text += " " + strings.ToLower(str)
	}
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.category
			}
		}
	}

	if _, ok := s.Context["widgetId"]; ok {
		return CategoryWidget
	}
	return CategoryUnknown
}

func classifyStatus(status int) (Category, bool) {
	switch {
	case status == 401 || status == 403:
		return CategoryAuthentication, true
	case status == 400 || status == 422:
		return CategoryValidation, true
	case status == 408 || status == 429 || status >= 500:
		return CategoryNetwork, true
	}
	return "", false
}

// SignalFromError adapts err into a Signal, carrying the status of an
// APIError and a category hint derived from known sentinels.
func SignalFromError(err error, ctx map[string]any) Signal {
	s := Signal{Context: ctx}
	if err == nil {
		return s
	}
	s.Message = err.Error()

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		s.Status = apiErr.StatusCode
	}
	return s
}

// ClassifyError classifies a Go error. Known sentinels decide the category
// before falling back to the message heuristics.
func ClassifyError(err error, ctx map[string]any) Category {
	switch {
	case err == nil:
	case IsAuth(err):
		return CategoryAuthentication
	case IsStorage(err):
		return CategoryStorage
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable), errors.Is(err, ErrRateLimit):
		return CategoryNetwork
	case errors.Is(err, ErrInvalidInput):
		return CategoryValidation
	}
	return Classify(SignalFromError(err, ctx))
}
