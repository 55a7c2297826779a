// Package workbench provides the HTTP handlers of the annotation workbench:
// server-rendered pages plus the JSON endpoints the page script calls.
package workbench

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/annotator/internal/capture"
	"github.com/xiaot623/annotator/internal/compositor"
	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/sidebar"
	wb "github.com/xiaot623/annotator/internal/workbench"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Handler handles workbench requests.
type Handler struct {
	manager *wb.Manager
	wsURL   string
	tmpl    *template.Template
}

// NewHandler creates a new handler. wsURL is the change-notification
// websocket handed to the page; empty disables live reload.
func NewHandler(manager *wb.Manager, wsURL string) *Handler {
	return &Handler{
		manager: manager,
		wsURL:   wsURL,
		tmpl:    template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

// RegisterRoutes registers the workbench routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/conversations/:id", h.OpenConversation)
	e.GET("/health", h.Health)
	e.StaticFS("/static", echo.MustSubFS(staticFS, "static"))

	g := e.Group("/views/:view")
	g.GET("", h.ViewPage)
	g.DELETE("", h.CloseView)
	g.GET("/state", h.State)
	g.GET("/fragments/messages", h.MessagesFragment)
	g.GET("/fragments/sidebar", h.SidebarFragment)
	g.POST("/selections", h.CaptureSelection)
	g.POST("/insertions", h.AddInsertionPoint)
	g.DELETE("/selections/:entry", h.RemoveSelection)
	g.PUT("/form", h.UpdateForm)
	g.POST("/submit", h.Submit)
	g.POST("/cancel", h.Cancel)
	g.POST("/reload", h.Reload)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

type messageView struct {
	Index     int
	Author    string
	Timestamp time.Time
	Segments  []compositor.Segment
}

type pageData struct {
	ViewID       string
	WSURL        string
	Conversation *domain.Conversation
	Messages     []messageView
	Annotations  []domain.Annotation
	Sidebar      sidebar.Snapshot
	LoadError    string
}

func (h *Handler) pageData(v *wb.View) pageData {
	state := v.State()
	msgs := make([]messageView, len(state.Plans))
	for i, p := range state.Plans {
		m := state.Conversation.Conversation[p.MessageIndex]
		msgs[i] = messageView{Index: p.MessageIndex, Author: m.Author, Timestamp: m.Timestamp, Segments: p.Segments}
	}
	return pageData{
		ViewID:       state.ViewID,
		WSURL:        h.wsURL,
		Conversation: state.Conversation,
		Messages:     msgs,
		Annotations:  state.Annotations,
		Sidebar:      state.Sidebar,
		LoadError:    state.LoadError,
	}
}

func (h *Handler) render(c echo.Context, status int, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		slog.ErrorContext(c.Request().Context(), "failed to render template", "template", name, "error", err)
		return c.String(http.StatusInternalServerError, "failed to render page")
	}
	return c.HTMLBlob(status, buf.Bytes())
}

func (h *Handler) view(c echo.Context) (*wb.View, error) {
	return h.manager.Get(c.Param("view"))
}

// fail maps workbench errors onto status codes and a JSON error body.
func fail(c echo.Context, err error) error {
	var verr *sidebar.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":    "annotation form incomplete",
			"problems": verr.Problems,
		})
	case errors.Is(err, wb.ErrViewNotFound), errors.Is(err, wb.ErrConversationNotFound),
		errors.Is(err, sidebar.ErrUnknownSelection):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, capture.ErrCrossMessage), errors.Is(err, capture.ErrOutOfRange),
		errors.Is(err, sidebar.ErrNothingPending):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, sidebar.ErrSubmitInFlight):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.ErrorContext(c.Request().Context(), "workbench request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "The annotation backend is unavailable. Please try again."})
	}
}

// Index lists the conversations.
// GET /
func (h *Handler) Index(c echo.Context) error {
	data := struct {
		Conversations []domain.Conversation
		Error         string
	}{}
	convs, err := h.manager.Conversations(c.Request().Context())
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "failed to list conversations", "error", err)
		data.Error = "Could not load conversations."
	}
	data.Conversations = convs
	return h.render(c, http.StatusOK, "index", data)
}

// OpenConversation opens a new view and redirects to it.
// GET /conversations/:id
func (h *Handler) OpenConversation(c echo.Context) error {
	v, err := h.manager.Open(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, wb.ErrConversationNotFound) {
			return c.String(http.StatusNotFound, "conversation not found")
		}
		slog.ErrorContext(c.Request().Context(), "failed to open conversation", "error", err)
		return c.String(http.StatusBadGateway, "could not load the conversation")
	}
	return c.Redirect(http.StatusSeeOther, "/views/"+v.ID())
}

// ViewPage renders an open view.
// GET /views/:view
func (h *Handler) ViewPage(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return c.String(http.StatusNotFound, "view not found")
	}
	return h.render(c, http.StatusOK, "view", h.pageData(v))
}

// CloseView discards a view.
// DELETE /views/:view
func (h *Handler) CloseView(c echo.Context) error {
	h.manager.Close(c.Param("view"))
	return c.NoContent(http.StatusNoContent)
}

// State returns the view snapshot.
// GET /views/:view/state
func (h *Handler) State(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, v.State())
}

// MessagesFragment renders the messages of a view.
// GET /views/:view/fragments/messages
func (h *Handler) MessagesFragment(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	return h.render(c, http.StatusOK, "messages", h.pageData(v))
}

// SidebarFragment renders the sidebar of a view.
// GET /views/:view/fragments/sidebar
func (h *Handler) SidebarFragment(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	return h.render(c, http.StatusOK, "sidebar", h.pageData(v))
}

// CaptureSelection adds a browser selection to the pending list.
// POST /views/:view/selections
func (h *Handler) CaptureSelection(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	var r capture.Range
	if err := c.Bind(&r); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	id, ok, err := v.Capture(r)
	if err != nil {
		return fail(c, err)
	}
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, map[string]string{"entryId": id})
}

// AddInsertionPoint adds a missing-text insertion point.
// POST /views/:view/insertions
func (h *Handler) AddInsertionPoint(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	var p capture.Point
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	id, err := v.AddInsertionPoint(p)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"entryId": id})
}

// RemoveSelection drops a pending selection.
// DELETE /views/:view/selections/:entry
func (h *Handler) RemoveSelection(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	if err := v.Remove(c.Param("entry")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateForm replaces the sidebar form and returns the sidebar snapshot.
// PUT /views/:view/form
func (h *Handler) UpdateForm(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	var f sidebar.Form
	if err := c.Bind(&f); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	v.SetForm(f)
	return c.JSON(http.StatusOK, v.State().Sidebar)
}

// Submit submits the pending selections.
// POST /views/:view/submit
func (h *Handler) Submit(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	created, err := v.Submit(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"created": len(created),
		"state":   v.State(),
	})
}

// Cancel discards the pending selections.
// POST /views/:view/cancel
func (h *Handler) Cancel(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	v.Cancel()
	return c.NoContent(http.StatusNoContent)
}

// Reload reloads rules and committed annotations.
// POST /views/:view/reload
func (h *Handler) Reload(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return fail(c, err)
	}
	if err := v.Reload(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, v.State())
}
