package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/annotator/internal/schema"
)

// ListConversations lists conversations.
// GET /api/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	convs, err := h.service.ListConversations(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}

	docs := make([]schema.ConversationDoc, len(convs))
	for i, conv := range convs {
		docs[i] = schema.ConversationToDoc(conv)
	}
	return c.JSON(http.StatusOK, docs)
}

// GetConversation returns one conversation.
// GET /api/conversations/:id
func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.service.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, schema.ConversationToDoc(*conv))
}

// CreateConversation creates a conversation. length and last_updated in the
// body are ignored.
// POST /api/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	var req schema.ConversationDoc
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "title is required"})
	}

	conv, err := h.service.CreateConversation(c.Request().Context(), schema.ConversationRequestFromDoc(req))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, schema.ConversationToDoc(*conv))
}

// UpdateConversation applies a partial update.
// PUT /api/conversations/:id
func (h *Handler) UpdateConversation(c echo.Context) error {
	var req schema.ConversationPatchDoc
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	conv, err := h.service.UpdateConversation(c.Request().Context(), c.Param("id"), schema.ConversationPatchFromDoc(req))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, schema.ConversationToDoc(*conv))
}

// DeleteConversation deletes a conversation and its annotations.
// DELETE /api/conversations/:id
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.service.DeleteConversation(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
