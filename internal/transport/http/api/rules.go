package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/annotator/internal/schema"
)

// ListRules lists the rule catalog, optionally filtered by ?domain=.
// GET /api/rules
func (h *Handler) ListRules(c echo.Context) error {
	ctx := c.Request().Context()

	rules, err := h.service.ListRules(ctx, c.QueryParam("domain"))
	if err != nil {
		return fail(c, err)
	}

	docs := make([]schema.RuleDoc, len(rules))
	for i, r := range rules {
		docs[i] = schema.RuleToDoc(r)
	}
	return c.JSON(http.StatusOK, docs)
}

// GetRule returns one rule.
// GET /api/rules/:id
func (h *Handler) GetRule(c echo.Context) error {
	rule, err := h.service.GetRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, schema.RuleToDoc(*rule))
}

// CreateRule creates a rule.
// POST /api/rules
func (h *Handler) CreateRule(c echo.Context) error {
	var req schema.RuleDoc
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}
	if req.Domain == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "domain is required"})
	}

	req.ID = ""
	rule, err := h.service.CreateRule(c.Request().Context(), schema.RuleRequestFromDoc(req))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, schema.RuleToDoc(*rule))
}

// UpdateRule applies a partial update.
// PUT /api/rules/:id
func (h *Handler) UpdateRule(c echo.Context) error {
	var req schema.RulePatchDoc
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	rule, err := h.service.UpdateRule(c.Request().Context(), c.Param("id"), schema.RulePatchFromDoc(req))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, schema.RuleToDoc(*rule))
}

// DeleteRule deletes a rule.
// DELETE /api/rules/:id
func (h *Handler) DeleteRule(c echo.Context) error {
	if err := h.service.DeleteRule(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
