// Package requestid provides request ID propagation via context and a Fiber
// middleware that assigns one per HTTP request.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header carries the request ID in and out.
const Header = "X-Request-ID"

// localsKey stores the ID in fiber.Ctx locals.
const localsKey = "requestid"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Middleware assigns each request an ID, reusing a well-formed incoming
// X-Request-ID. The ID is echoed in the response and placed on the user
// context so handlers and their callees can read it.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		c.Locals(localsKey, id)
		c.SetUserContext(WithRequestID(c.UserContext(), id))
		c.Set(Header, id)
		return c.Next()
	}
}

// Get returns the ID assigned by Middleware, or "" outside it.
func Get(c *fiber.Ctx) string {
	id, _ := c.Locals(localsKey).(string)
	return id
}

// Logger returns logger tagged with the request ID carried by ctx.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
