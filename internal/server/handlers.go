package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
	"github.com/p-blackswan/dashboard/internal/widget"
)

// Handlers serves the dashboard routes.
type Handlers struct {
	deps       Deps
	defaultTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewHandlers creates the route handlers.
func NewHandlers(deps Deps, defaultTTL time.Duration, logger zerolog.Logger) *Handlers {
	return &Handlers{
		deps:       deps,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Dashboard handles GET /.
func (h *Handlers) Dashboard(c *fiber.Ctx) error {
	return renderHTML(c, "page", dashboardPage{
		Title:       h.deps.Dashboard.Title(),
		Widgets:     h.deps.Dashboard.Render(),
		GeneratedAt: h.now(),
	})
}

// WidgetFragment handles GET /widgets/:id.
func (h *Handlers) WidgetFragment(c *fiber.Ctx) error {
	w, ok := h.deps.Dashboard.Widget(c.Params("id"))
	if !ok {
		return widgetNotFound(c)
	}
	v := w.Render()
	if wantsJSON(c) {
		return c.JSON(v)
	}
	return renderHTML(c, "widget", v)
}

// RetryWidget handles POST /widgets/:id/retry.
func (h *Handlers) RetryWidget(c *fiber.Ctx) error {
	id := c.Params("id")
	retried, err := h.deps.Dashboard.Retry(id)
	if errors.Is(err, widget.ErrUnknownWidget) {
		return widgetNotFound(c)
	}
	if err != nil {
		return err
	}

	h.logger.Info().Str("widget", id).Bool("retried", retried).Msg("widget retry requested")
	if wantsJSON(c) {
		return c.JSON(RetryResponse{ID: id, Retried: retried})
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

// RefreshWidget handles POST /widgets/:id/refresh. A failed refresh is not
// an HTTP error; the widget's view carries it.
func (h *Handlers) RefreshWidget(c *fiber.Ctx) error {
	id := c.Params("id")
	err := h.deps.Dashboard.Refresh(c.UserContext(), id)
	if errors.Is(err, widget.ErrUnknownWidget) {
		return widgetNotFound(c)
	}

	if wantsJSON(c) {
		w, _ := h.deps.Dashboard.Widget(id)
		return c.JSON(w.Render())
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

// ListWidgets handles GET /api/v1/widgets.
func (h *Handlers) ListWidgets(c *fiber.Ctx) error {
	return c.JSON(WidgetsResponse{
		Title:   h.deps.Dashboard.Title(),
		Failed:  h.deps.Dashboard.FailedCount(),
		Widgets: h.deps.Dashboard.Render(),
	})
}

// ListErrors handles GET /api/v1/errors.
func (h *Handlers) ListErrors(c *fiber.Ctx) error {
	return c.JSON(ErrorsResponse{
		Capacity: h.deps.Errors.Capacity(),
		Errors:   h.deps.Errors.RecentErrors(),
	})
}

// ClearErrors handles DELETE /api/v1/errors.
func (h *Handlers) ClearErrors(c *fiber.Ctx) error {
	h.deps.Errors.ClearHistory()
	return c.SendStatus(fiber.StatusNoContent)
}

// PutToken handles PUT /api/v1/tokens/:service.
func (h *Handlers) PutToken(c *fiber.Ctx) error {
	service := c.Params("service")
	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	var err error
	switch {
	case req.JWT != "" && req.Token != "":
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Set either token or jwt, not both")
	case req.JWT != "":
		err = h.deps.Tokens.SaveJWT(c.UserContext(), service, req.JWT)
	case req.Token != "":
		lifetime := h.defaultTTL
		if req.LifetimeSeconds != nil {
			lifetime = time.Duration(*req.LifetimeSeconds) * time.Second
		}
		err = h.deps.Tokens.SaveToken(c.UserContext(), service, req.Token, lifetime)
	default:
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Field 'token' or 'jwt' is required")
	}
	if err != nil {
		return storeProblem(c, err)
	}

	h.logger.Info().Str("service", service).Msg("token stored")
	return h.GetToken(c)
}

// GetToken handles GET /api/v1/tokens/:service.
func (h *Handlers) GetToken(c *fiber.Ctx) error {
	service := c.Params("service")
	valid, err := h.deps.Tokens.IsTokenValid(c.UserContext(), service)
	if err != nil {
		return storeProblem(c, err)
	}
	return c.JSON(TokenStatus{Service: service, Valid: valid})
}

// DeleteToken handles DELETE /api/v1/tokens/:service.
func (h *Handlers) DeleteToken(c *fiber.Ctx) error {
	if err := h.deps.Tokens.RemoveToken(c.UserContext(), c.Params("service")); err != nil {
		return storeProblem(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func widgetNotFound(c *fiber.Ctx) error {
	return problemResponse(c, fiber.StatusNotFound,
		"widget_not_found", "Not Found",
		"No widget with id "+c.Params("id"))
}

// storeProblem maps token store failures onto problem responses.
func storeProblem(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_token", "Bad Request", err.Error())
	case errors.Is(err, perrors.ErrQuotaExceeded):
		return problemResponse(c, fiber.StatusInsufficientStorage, "quota_exceeded", "Insufficient Storage", err.Error())
	case errors.Is(err, perrors.ErrDeserialization):
		return problemResponse(c, fiber.StatusInternalServerError, "corrupt_record", "Internal Server Error", err.Error())
	}
	return err
}

func wantsJSON(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}
