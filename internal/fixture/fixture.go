// Package fixture provides the embedded demo dataset. It is served either
// through the in-memory Source, for running the workbench without a backend,
// or seeded once into an empty backend database.
package fixture

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/schema"
)

//go:embed demo.json
var demoJSON []byte

// ErrNotFound is returned for unknown conversation or rule identifiers.
var ErrNotFound = errors.New("not found")

// Dataset is a decoded set of rules and conversations.
type Dataset struct {
	Rules         []domain.Rule
	Conversations []domain.Conversation
}

type datasetDoc struct {
	Rules         []schema.RuleDoc         `json:"rules"`
	Conversations []schema.ConversationDoc `json:"conversations"`
}

// Parse decodes a dataset in the backend wire format.
func Parse(data []byte) (*Dataset, error) {
	var doc datasetDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	rules, err := schema.RulesFromDocs(doc.Rules)
	if err != nil {
		return nil, err
	}
	convs, err := schema.ConversationsFromDocs(doc.Conversations)
	if err != nil {
		return nil, err
	}
	return &Dataset{Rules: rules, Conversations: convs}, nil
}

// Demo returns the embedded demo dataset.
func Demo() *Dataset {
	ds, err := Parse(demoJSON)
	if err != nil {
		panic(fmt.Sprintf("fixture: embedded dataset is invalid: %v", err))
	}
	return ds
}

// Source serves a dataset from memory. Created annotations live as long as
// the Source.
type Source struct {
	mu            sync.RWMutex
	rules         []domain.Rule
	conversations []domain.Conversation
	annotations   []domain.Annotation
}

// NewSource creates a Source over ds.
func NewSource(ds *Dataset) *Source {
	return &Source{
		rules:         slices.Clone(ds.Rules),
		conversations: slices.Clone(ds.Conversations),
	}
}

// ListRules returns the rules of domainName, or all rules when it is empty.
func (s *Source) ListRules(ctx context.Context, domainName string) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if domainName == "" {
		return slices.Clone(s.rules), nil
	}
	return domain.RulesForDomain(s.rules, domainName), nil
}

// ListConversations returns every conversation.
func (s *Source) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.conversations), nil
}

// GetConversation returns the conversation with the given id.
func (s *Source) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conversations {
		if c.ID == id {
			conv := c
			return &conv, nil
		}
	}
	return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
}

// ListAnnotations returns the annotations of a conversation in creation order.
func (s *Source) ListAnnotations(ctx context.Context, conversationID string) ([]domain.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Annotation{}
	for _, a := range s.annotations {
		if conversationID == "" || a.ConversationID == conversationID {
			out = append(out, a)
		}
	}
	return out, nil
}

// CreateAnnotation validates sel against the conversation and the rule
// catalog and stores it.
func (s *Source) CreateAnnotation(ctx context.Context, conversationID string, sel domain.Selection, annotator string) (domain.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.conversations, func(c domain.Conversation) bool { return c.ID == conversationID })
	if idx < 0 {
		return domain.Annotation{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	conv := &s.conversations[idx]

	ri := slices.IndexFunc(s.rules, func(r domain.Rule) bool { return r.ID == sel.RuleID })
	if ri < 0 {
		return domain.Annotation{}, fmt.Errorf("rule %s: %w", sel.RuleID, ErrNotFound)
	}
	if rule := s.rules[ri]; rule.Domain != conv.Domain {
		return domain.Annotation{}, fmt.Errorf("%w: rule %s belongs to domain %q, conversation to %q",
			domain.ErrInvalidSelection, rule.ID, rule.Domain, conv.Domain)
	}
	if err := sel.Validate(conv); err != nil {
		return domain.Annotation{}, err
	}

	ann := domain.Annotation{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Selection:      sel,
		Annotator:      annotator,
		Timestamp:      time.Now().UTC(),
	}
	s.annotations = append(s.annotations, ann)
	return ann, nil
}

// Seeder is the part of the backend service Seed writes through.
type Seeder interface {
	CountConversations(ctx context.Context) (int, error)
	CreateRule(ctx context.Context, rule domain.Rule) (*domain.Rule, error)
	CreateConversation(ctx context.Context, conv domain.Conversation) (*domain.Conversation, error)
}

// Seed writes ds into an empty backend. It reports whether anything was
// written; a backend that already holds conversations is left alone.
// Conversations keep their identifiers, rules get fresh ones.
func Seed(ctx context.Context, svc Seeder, ds *Dataset) (bool, error) {
	n, err := svc.CountConversations(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count conversations: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	for _, r := range ds.Rules {
		if _, err := svc.CreateRule(ctx, r); err != nil {
			return false, fmt.Errorf("failed to seed rule %q: %w", r.Name, err)
		}
	}
	for _, c := range ds.Conversations {
		if _, err := svc.CreateConversation(ctx, c); err != nil {
			return false, fmt.Errorf("failed to seed conversation %q: %w", c.Title, err)
		}
	}

	slog.InfoContext(ctx, "demo dataset seeded", "rules", len(ds.Rules), "conversations", len(ds.Conversations))
	return true, nil
}
