// Package store defines the backend storage interface and its SQLite
// implementation.
package store

import (
	"context"
	"errors"

	"github.com/xiaot623/annotator/internal/domain"
)

// ErrNotFound is returned when the addressed record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for data persistence.
type Store interface {
	// Rule operations
	ListRules(ctx context.Context, domainName string) ([]domain.Rule, error)
	GetRule(ctx context.Context, id string) (*domain.Rule, error)
	CreateRule(ctx context.Context, rule *domain.Rule) error
	UpdateRule(ctx context.Context, rule *domain.Rule) error
	DeleteRule(ctx context.Context, id string) error

	// Conversation operations
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	UpdateConversation(ctx context.Context, conv *domain.Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	CountConversations(ctx context.Context) (int, error)

	// Annotation operations
	ListAnnotations(ctx context.Context, conversationID string) ([]domain.Annotation, error)
	CreateAnnotation(ctx context.Context, ann *domain.Annotation) error

	// Lifecycle
	Close() error
}
