// Package backend provides the annotation store client, an HTTP client for the
// backend REST API. All payloads pass through the schema package, so callers
// only ever see domain shapes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/logger"
	"github.com/xiaot623/annotator/internal/metrics"
	"github.com/xiaot623/annotator/internal/schema"
)

// DefaultTimeout bounds a single request when NewClient gets no timeout.
const DefaultTimeout = 10 * time.Second

// Client is an HTTP client for the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new store client. baseURL includes the /api prefix.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the base URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// errorResponse is the error body written by the backend.
type errorResponse struct {
	Error   string   `json:"error"`
	Reasons []string `json:"reasons"`
}

// do issues one request. body is encoded as JSON when non-nil; out is decoded
// from a 2xx response when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		metrics.StoreRequests.WithLabelValues(op, metrics.Outcome(err)).Inc()
		metrics.StoreRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			ctx := logger.WithFields(ctx, logger.Fields{Component: "store_client"})
			slog.WarnContext(ctx, "backend request failed", "op", op, "method", method, "path", path, "error", err)
		}
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindRejected, Message: "failed to marshal request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Message: "failed to create request", Err: err}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &Error{Op: op, Kind: transportKind(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		e := &Error{Op: op, Kind: kindForStatus(resp.StatusCode), StatusCode: resp.StatusCode}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			e.Message = errResp.Error
			e.Reasons = errResp.Reasons
		} else {
			e.Message = strings.TrimSpace(string(respBody))
		}
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Kind: KindDecode, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}
	return nil
}

func transportKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func decodeFailure(op string, err error) error {
	return &Error{Op: op, Kind: KindDecode, Message: "unexpected payload", Err: err}
}

func escape(id string) string {
	return url.PathEscape(id)
}

// ListRules calls GET /rules/. An empty domainName lists the whole catalog.
func (c *Client) ListRules(ctx context.Context, domainName string) ([]domain.Rule, error) {
	var query url.Values
	if domainName != "" {
		query = url.Values{"domain": {domainName}}
	}

	var docs []schema.RuleDoc
	if err := c.do(ctx, "list_rules", http.MethodGet, "/rules/", query, nil, &docs); err != nil {
		return nil, err
	}
	rules, err := schema.RulesFromDocs(docs)
	if err != nil {
		return nil, decodeFailure("list_rules", err)
	}
	return rules, nil
}

// GetRule calls GET /rules/:id.
func (c *Client) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	var doc schema.RuleDoc
	if err := c.do(ctx, "get_rule", http.MethodGet, "/rules/"+escape(id), nil, nil, &doc); err != nil {
		return domain.Rule{}, err
	}
	rule, err := schema.RuleFromDoc(doc)
	if err != nil {
		return domain.Rule{}, decodeFailure("get_rule", err)
	}
	return rule, nil
}

// CreateRule calls POST /rules/. Any id on rule is ignored.
func (c *Client) CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	req := schema.RuleToDoc(rule)
	req.ID = ""

	var doc schema.RuleDoc
	if err := c.do(ctx, "create_rule", http.MethodPost, "/rules/", nil, req, &doc); err != nil {
		return domain.Rule{}, err
	}
	created, err := schema.RuleFromDoc(doc)
	if err != nil {
		return domain.Rule{}, decodeFailure("create_rule", err)
	}
	return created, nil
}

// UpdateRule calls PUT /rules/:id with the fields set in patch.
func (c *Client) UpdateRule(ctx context.Context, id string, patch domain.RulePatch) (domain.Rule, error) {
	var doc schema.RuleDoc
	if err := c.do(ctx, "update_rule", http.MethodPut, "/rules/"+escape(id), nil, schema.RulePatchToDoc(patch), &doc); err != nil {
		return domain.Rule{}, err
	}
	updated, err := schema.RuleFromDoc(doc)
	if err != nil {
		return domain.Rule{}, decodeFailure("update_rule", err)
	}
	return updated, nil
}

// DeleteRule calls DELETE /rules/:id. Prefer RequestRuleDelete and
// ConfirmDelete when a person triggers the delete.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, "delete_rule", http.MethodDelete, "/rules/"+escape(id), nil, nil, nil)
}

// ListConversations calls GET /conversations/.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var docs []schema.ConversationDoc
	if err := c.do(ctx, "list_conversations", http.MethodGet, "/conversations/", nil, nil, &docs); err != nil {
		return nil, err
	}
	convs, err := schema.ConversationsFromDocs(docs)
	if err != nil {
		return nil, decodeFailure("list_conversations", err)
	}
	return convs, nil
}

// GetConversation calls GET /conversations/:id.
func (c *Client) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var doc schema.ConversationDoc
	if err := c.do(ctx, "get_conversation", http.MethodGet, "/conversations/"+escape(id), nil, nil, &doc); err != nil {
		return nil, err
	}
	conv, err := schema.ConversationFromDoc(doc)
	if err != nil {
		return nil, decodeFailure("get_conversation", err)
	}
	return &conv, nil
}

// CreateConversation calls POST /conversations/.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) (*domain.Conversation, error) {
	var doc schema.ConversationDoc
	if err := c.do(ctx, "create_conversation", http.MethodPost, "/conversations/", nil, schema.ConversationToDoc(conv), &doc); err != nil {
		return nil, err
	}
	created, err := schema.ConversationFromDoc(doc)
	if err != nil {
		return nil, decodeFailure("create_conversation", err)
	}
	return &created, nil
}

// UpdateConversation calls PUT /conversations/:id with the fields set in patch.
func (c *Client) UpdateConversation(ctx context.Context, id string, patch domain.ConversationPatch) (*domain.Conversation, error) {
	var doc schema.ConversationDoc
	if err := c.do(ctx, "update_conversation", http.MethodPut, "/conversations/"+escape(id), nil, schema.ConversationPatchToDoc(patch), &doc); err != nil {
		return nil, err
	}
	updated, err := schema.ConversationFromDoc(doc)
	if err != nil {
		return nil, decodeFailure("update_conversation", err)
	}
	return &updated, nil
}

// DeleteConversation calls DELETE /conversations/:id.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, "delete_conversation", http.MethodDelete, "/conversations/"+escape(id), nil, nil, nil)
}

// ListAnnotations calls GET /annotations/?conversation_id=.
func (c *Client) ListAnnotations(ctx context.Context, conversationID string) ([]domain.Annotation, error) {
	var query url.Values
	if conversationID != "" {
		query = url.Values{"conversation_id": {conversationID}}
	}

	var docs []schema.AnnotationDoc
	if err := c.do(ctx, "list_annotations", http.MethodGet, "/annotations/", query, nil, &docs); err != nil {
		return nil, err
	}
	anns, err := schema.AnnotationsFromDocs(docs)
	if err != nil {
		return nil, decodeFailure("list_annotations", err)
	}
	return anns, nil
}

// CreateAnnotation calls POST /annotations/.
func (c *Client) CreateAnnotation(ctx context.Context, conversationID string, sel domain.Selection, annotator string) (domain.Annotation, error) {
	req := schema.AnnotationToDoc(domain.Annotation{
		ConversationID: conversationID,
		Selection:      sel,
		Annotator:      annotator,
	})

	var doc schema.AnnotationDoc
	if err := c.do(ctx, "create_annotation", http.MethodPost, "/annotations/", nil, req, &doc); err != nil {
		return domain.Annotation{}, err
	}
	created, err := schema.AnnotationFromDoc(doc)
	if err != nil {
		return domain.Annotation{}, decodeFailure("create_annotation", err)
	}
	return created, nil
}

// Health calls GET /health on the server root.
func (c *Client) Health(ctx context.Context) error {
	root := strings.TrimSuffix(c.baseURL, "/api")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, root+"/health", nil)
	if err != nil {
		return &Error{Op: "health", Kind: KindTransport, Err: err}
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &Error{Op: "health", Kind: transportKind(err), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Op: "health", Kind: kindForStatus(resp.StatusCode), StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("backend returned status %d", resp.StatusCode)}
	}
	return nil
}
