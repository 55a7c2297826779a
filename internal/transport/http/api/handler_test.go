package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/annotator/internal/config"
	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/policy"
	"github.com/xiaot623/annotator/internal/schema"
	"github.com/xiaot623/annotator/internal/service"
	"github.com/xiaot623/annotator/internal/testutil"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
	t.Helper()
	db := testutil.NewSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	svc := service.New(db, &config.Config{Annotator: "anonymous"}, engine, nil)
	return NewHandler(svc), svc
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func seed(t *testing.T, svc *service.Service) (*domain.Conversation, *domain.Rule) {
	t.Helper()
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, domain.Conversation{
		Title: "Support chat", Domain: "ethics",
		Conversation: []domain.Message{{Author: "user", Message: "Hello world"}},
	})
	require.NoError(t, err)
	rule, err := svc.CreateRule(ctx, domain.Rule{Domain: "ethics", Name: "Be polite", Category: "tone"})
	require.NoError(t, err)
	return conv, rule
}

func TestCreateRuleValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/rules", `{"domain":"ethics"}`), rec)
	require.NoError(t, h.CreateRule(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRuleReturnsIdentifier(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/rules",
		`{"domain":"ethics","name":"Be polite","description":"no insults","category":"tone"}`), rec)
	require.NoError(t, h.CreateRule(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.NotEmpty(t, doc["_id"])
	assert.NotContains(t, doc, "id")
	assert.Equal(t, "no insults", doc["description"])
}

func TestUpdateAndDeleteRule(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	_, rule := seed(t, svc)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, "/api/rules/"+rule.ID, `{"category":"courtesy"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(rule.ID)
	require.NoError(t, h.UpdateRule(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc schema.RuleDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "courtesy", doc.Category)
	assert.Equal(t, "Be polite", doc.Name)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/rules/"+rule.ID, nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(rule.ID)
	require.NoError(t, h.DeleteRule(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/rules/"+rule.ID, nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(rule.ID)
	require.NoError(t, h.DeleteRule(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAnnotationSnakeCaseContract(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	conv, rule := seed(t, svc)

	body := `{"conversation_id":"` + conv.ID + `","annotator":"u1","selection":{"message_index":0,"start_offset":5,"end_offset":5,` +
		`"rule_id":"` + rule.ID + `","type":"violation","violation_type":"missing","comment":"greet by name","replacement_suggestion":" NAME"}}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/annotations", body), rec)
	require.NoError(t, h.CreateAnnotation(c))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created["_id"])
	sel := created["selection"].(map[string]interface{})
	assert.Equal(t, " NAME", sel["replacement_suggestion"])
	assert.Equal(t, "missing", sel["violation_type"])

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/annotations?conversation_id="+conv.ID, nil), rec)
	require.NoError(t, h.ListAnnotations(c))
	var docs []schema.AnnotationDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	anns, err := schema.AnnotationsFromDocs(docs)
	require.NoError(t, err)
	assert.Equal(t, 5, anns[0].Selection.StartOffset)
}

func TestCreateAnnotationErrors(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	conv, rule := seed(t, svc)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing offsets", `{"conversation_id":"` + conv.ID + `","selection":{"rule_id":"` + rule.ID + `","type":"compliance","comment":"x"}}`, http.StatusBadRequest},
		{"unknown type", `{"conversation_id":"` + conv.ID + `","selection":{"message_index":0,"start_offset":0,"end_offset":1,"rule_id":"` + rule.ID + `","type":"neutral","comment":"x"}}`, http.StatusBadRequest},
		{"unknown violation type", `{"conversation_id":"` + conv.ID + `","selection":{"message_index":0,"start_offset":0,"end_offset":1,"rule_id":"` + rule.ID + `","type":"violation","violation_type":"partial","comment":"x"}}`, http.StatusBadRequest},
		{"unknown conversation", `{"conversation_id":"nope","selection":{"message_index":0,"start_offset":0,"end_offset":1,"rule_id":"` + rule.ID + `","type":"compliance","comment":"x"}}`, http.StatusNotFound},
		{"policy rejection", `{"conversation_id":"` + conv.ID + `","selection":{"message_index":0,"start_offset":0,"end_offset":40,"rule_id":"` + rule.ID + `","type":"compliance","comment":"x"}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(jsonRequest(http.MethodPost, "/api/annotations", tt.body), rec)
			require.NoError(t, h.CreateAnnotation(c))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestConversationRoutes(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	h.RegisterRoutes(e)

	body := `{"title":"Chat","categories":["ethical"],"domain":"ethics","post_url":"https://example.com",` +
		`"conversation":[{"author":"user","message":"Hello","timestamp":"2024-02-20T12:00:00Z"}],"length":7}`
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/api/conversations", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created schema.ConversationDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 1, created.Length)
	assert.Equal(t, "https://example.com", created.PostURL)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPut, "/api/conversations/"+created.ID, `{"title":"Renamed"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got schema.ConversationDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Renamed", got.Title)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	var list []schema.ConversationDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/conversations/"+created.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRulesFiltersByDomain(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	seed(t, svc)
	_, err := svc.CreateRule(context.Background(), domain.Rule{Domain: "billing", Name: "Quote prices"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/rules?domain=billing", nil), rec)
	require.NoError(t, h.ListRules(c))
	var docs []schema.RuleDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "Quote prices", docs[0].Name)
}
