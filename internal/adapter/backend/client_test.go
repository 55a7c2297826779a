package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/annotator/internal/adapter/backend"
	"github.com/xiaot623/annotator/internal/config"
	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/policy"
	"github.com/xiaot623/annotator/internal/service"
	"github.com/xiaot623/annotator/internal/testutil"
	httpserver "github.com/xiaot623/annotator/internal/transport/http"
)

// newBackend mounts the real REST API on an httptest server.
func newBackend(t *testing.T) (*backend.Client, *service.Service, *httptest.Server) {
	t.Helper()
	db := testutil.NewSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	cfg := &config.Config{Annotator: "anonymous", CORSOrigin: "*"}
	svc := service.New(db, cfg, engine, nil)

	server := httptest.NewServer(httpserver.NewAPIServer(svc, nil, cfg))
	t.Cleanup(server.Close)

	return backend.NewClient(server.URL+"/api/", time.Second), svc, server
}

func seedConversation(t *testing.T, svc *service.Service, text string) *domain.Conversation {
	t.Helper()
	conv, err := svc.CreateConversation(context.Background(), domain.Conversation{
		Title:  "Support chat",
		Domain: "ethics",
		Conversation: []domain.Message{
			{Author: "user", Message: "Can you help me?"},
			{Author: "assistant", Message: text},
		},
	})
	require.NoError(t, err)
	return conv
}

func TestRuleLifecycle(t *testing.T) {
	client, _, _ := newBackend(t)
	ctx := context.Background()

	created, err := client.CreateRule(ctx, domain.Rule{
		ID: "ignored", Domain: "ethics", Name: "Be polite", Description: "no insults", Category: "tone",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.NotEqual(t, "ignored", created.ID)
	assert.Equal(t, "no insults", created.Description)

	_, err = client.CreateRule(ctx, domain.Rule{Domain: "billing", Name: "Quote prices"})
	require.NoError(t, err)

	all, err := client.ListRules(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ethics, err := client.ListRules(ctx, "ethics")
	require.NoError(t, err)
	require.Len(t, ethics, 1)
	assert.Equal(t, created, ethics[0])

	category := "courtesy"
	updated, err := client.UpdateRule(ctx, created.ID, domain.RulePatch{Category: &category})
	require.NoError(t, err)
	assert.Equal(t, "courtesy", updated.Category)
	assert.Equal(t, "Be polite", updated.Name)

	pending, err := client.RequestRuleDelete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.TargetRule, pending.Target)
	assert.Equal(t, "Be polite", pending.Label)
	assert.Contains(t, pending.Describe(), "Be polite")

	// Nothing is removed before confirmation.
	_, err = client.GetRule(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, client.ConfirmDelete(ctx, pending))
	assert.ErrorIs(t, client.ConfirmDelete(ctx, pending), backend.ErrDeleteNotRequested)
	assert.ErrorIs(t, client.ConfirmDelete(ctx, nil), backend.ErrDeleteNotRequested)

	_, err = client.GetRule(ctx, created.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.False(t, backend.IsRetryable(err))
}

func TestAnnotationRoundTripIsIdentity(t *testing.T) {
	client, svc, _ := newBackend(t)
	ctx := context.Background()
	conv := seedConversation(t, svc, "Hello world")
	rule, err := client.CreateRule(ctx, domain.Rule{Domain: "ethics", Name: "Greet by name"})
	require.NoError(t, err)

	selections := []domain.Selection{
		{MessageIndex: 1, StartOffset: 5, EndOffset: 5, RuleID: rule.ID, Type: domain.SelectionTypeViolation,
			ViolationType: domain.ViolationTypeMissing, Comment: "use the name", ReplacementSuggestion: " NAME"},
		{MessageIndex: 1, StartOffset: 0, EndOffset: 5, RuleID: rule.ID, Type: domain.SelectionTypeViolation,
			ViolationType: domain.ViolationTypeText, Comment: "too casual", ReplacementSuggestion: "Good morning"},
		{MessageIndex: 0, StartOffset: 0, EndOffset: 16, RuleID: rule.ID, Type: domain.SelectionTypeCompliance,
			Comment: "clear question"},
	}

	for _, sel := range selections {
		created, err := client.CreateAnnotation(ctx, conv.ID, sel, "u1")
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, conv.ID, created.ConversationID)
		assert.Equal(t, "u1", created.Annotator)
		assert.False(t, created.Timestamp.IsZero())
		assert.Equal(t, sel, created.Selection)
	}

	listed, err := client.ListAnnotations(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, listed, len(selections))
	for i, sel := range selections {
		assert.Equal(t, sel, listed[i].Selection)
	}
}

func TestCreateAnnotationRejected(t *testing.T) {
	client, svc, _ := newBackend(t)
	ctx := context.Background()
	conv := seedConversation(t, svc, "Hello world")
	rule, err := client.CreateRule(ctx, domain.Rule{Domain: "billing", Name: "Quote prices"})
	require.NoError(t, err)

	_, err = client.CreateAnnotation(ctx, conv.ID, domain.Selection{
		MessageIndex: 1, StartOffset: 0, EndOffset: 5, RuleID: rule.ID,
		Type: domain.SelectionTypeCompliance, Comment: "ok",
	}, "u1")
	require.Error(t, err)

	var be *backend.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, backend.KindRejected, be.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, be.StatusCode)
	assert.Equal(t, "create_annotation", be.Op)
	require.Len(t, be.Reasons, 1)
	assert.Contains(t, be.Reasons[0], "belongs to domain 'billing'")
	assert.False(t, be.Retryable())
}

func TestConversationTwoStepDelete(t *testing.T) {
	client, svc, _ := newBackend(t)
	ctx := context.Background()
	conv := seedConversation(t, svc, "Hello world")
	rule, err := client.CreateRule(ctx, domain.Rule{Domain: "ethics", Name: "Be polite"})
	require.NoError(t, err)
	_, err = client.CreateAnnotation(ctx, conv.ID, domain.Selection{
		MessageIndex: 1, StartOffset: 0, EndOffset: 5, RuleID: rule.ID,
		Type: domain.SelectionTypeCompliance, Comment: "polite",
	}, "u1")
	require.NoError(t, err)

	got, err := client.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Length)
	assert.Equal(t, "Hello world", got.Conversation[1].Message)

	pending, err := client.RequestConversationDelete(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending.Annotations)
	assert.Contains(t, pending.Describe(), "Support chat")

	require.NoError(t, client.ConfirmDelete(ctx, pending))

	convs, err := client.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)

	anns, err := client.ListAnnotations(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, anns)
}

func TestConversationCreateAndUpdate(t *testing.T) {
	client, _, _ := newBackend(t)
	ctx := context.Background()

	created, err := client.CreateConversation(ctx, domain.Conversation{
		Title:        "Billing question",
		Categories:   []string{"billing"},
		Domain:       "billing",
		Conversation: []domain.Message{{Author: "user", Message: "How much?"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Length)

	title := "Pricing question"
	updated, err := client.UpdateConversation(ctx, created.ID, domain.ConversationPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Pricing question", updated.Title)
	assert.Equal(t, []string{"billing"}, updated.Categories)
}

func TestDecodingFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		body string
		call func(*backend.Client) error
	}{
		{
			name: "rule without _id",
			body: `[{"domain":"ethics","name":"Be polite"}]`,
			call: func(c *backend.Client) error {
				_, err := c.ListRules(context.Background(), "")
				return err
			},
		},
		{
			name: "annotation without offsets",
			body: `[{"_id":"a1","conversation_id":"c1","selection":{"message_index":0,"rule_id":"r1","type":"compliance","comment":"x"}}]`,
			call: func(c *backend.Client) error {
				_, err := c.ListAnnotations(context.Background(), "c1")
				return err
			},
		},
		{
			name: "annotation with unknown type",
			body: `[{"_id":"a1","conversation_id":"c1","selection":{"message_index":0,"start_offset":0,"end_offset":1,"rule_id":"r1","type":"maybe","comment":"x"}}]`,
			call: func(c *backend.Client) error {
				_, err := c.ListAnnotations(context.Background(), "c1")
				return err
			},
		},
		{
			name: "not json",
			body: `<html>`,
			call: func(c *backend.Client) error {
				_, err := c.ListConversations(context.Background())
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := tt.call(backend.NewClient(server.URL+"/api", time.Second))
			var be *backend.Error
			require.True(t, errors.As(err, &be), "got %v", err)
			assert.Equal(t, backend.KindDecode, be.Kind)
		})
	}
}

func TestTransportFailuresAreRetryable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}))
		defer server.Close()

		_, err := backend.NewClient(server.URL+"/api", time.Second).ListRules(context.Background(), "")
		var be *backend.Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, backend.KindServer, be.Kind)
		assert.Equal(t, "upstream down", be.Message)
		assert.True(t, be.Retryable())
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		_, err := backend.NewClient(server.URL+"/api", 50*time.Millisecond).ListRules(context.Background(), "")
		var be *backend.Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, backend.KindTimeout, be.Kind)
		assert.True(t, backend.IsRetryable(err))
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := backend.NewClient(url+"/api", time.Second).ListRules(context.Background(), "")
		var be *backend.Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, backend.KindTransport, be.Kind)
		assert.True(t, be.Retryable())
	})
}

func TestHealth(t *testing.T) {
	client, _, _ := newBackend(t)
	assert.NoError(t, client.Health(context.Background()))
}

func TestCollectionRoutesUseTrailingSlash(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusTemporaryRedirect)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := backend.NewClient(server.URL+"/api", time.Second)
	ctx := context.Background()
	_, err := client.ListRules(ctx, "ethics")
	require.NoError(t, err)
	_, err = client.ListConversations(ctx)
	require.NoError(t, err)
	_, err = client.ListAnnotations(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /api/rules/",
		"GET /api/conversations/",
		"GET /api/annotations/",
	}, paths)
}
