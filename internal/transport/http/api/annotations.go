package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/annotator/internal/schema"
)

// ListAnnotations lists annotations, filtered by ?conversation_id=.
// GET /api/annotations
func (h *Handler) ListAnnotations(c echo.Context) error {
	anns, err := h.service.ListAnnotations(c.Request().Context(), c.QueryParam("conversation_id"))
	if err != nil {
		return fail(c, err)
	}

	docs := make([]schema.AnnotationDoc, len(anns))
	for i, a := range anns {
		docs[i] = schema.AnnotationToDoc(a)
	}
	return c.JSON(http.StatusOK, docs)
}

// CreateAnnotation admits and stores an annotation.
// POST /api/annotations
func (h *Handler) CreateAnnotation(c echo.Context) error {
	var req schema.AnnotationDoc
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ann, err := schema.AnnotationRequestFromDoc(req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	ann.ID = ""

	created, err := h.service.CreateAnnotation(c.Request().Context(), ann)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, schema.AnnotationToDoc(*created))
}
