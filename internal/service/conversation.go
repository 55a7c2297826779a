package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/annotator/internal/domain"
)

func (s *Service) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *Service) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, notFound(err, "get conversation %s", id)
	}
	return conv, nil
}

// CreateConversation stores conv. The identifier is assigned unless the
// caller provides one; length and last_updated are always derived here.
func (s *Service) CreateConversation(ctx context.Context, conv domain.Conversation) (*domain.Conversation, error) {
	if strings.TrimSpace(conv.Title) == "" {
		return nil, invalid("conversation title is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Categories == nil {
		conv.Categories = []string{}
	}
	if conv.Conversation == nil {
		conv.Conversation = []domain.Message{}
	}
	conv.Length = len(conv.Conversation)
	conv.LastUpdated = time.Now().UTC()

	if err := s.store.CreateConversation(ctx, &conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.log.InfoContext(ctx, "conversation created", "conversation_id", conv.ID, "messages", conv.Length)
	return &conv, nil
}

// UpdateConversation applies a partial update. Replacing the messages of an
// annotated conversation leaves its annotations' offsets as they were.
func (s *Service) UpdateConversation(ctx context.Context, id string, patch domain.ConversationPatch) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, notFound(err, "update conversation %s", id)
	}
	if patch.Title != nil {
		conv.Title = *patch.Title
	}
	if patch.Categories != nil {
		conv.Categories = patch.Categories
	}
	if patch.Conversation != nil {
		conv.Conversation = patch.Conversation
	}
	if patch.PostURL != nil {
		conv.PostURL = *patch.PostURL
	}
	if patch.Domain != nil {
		conv.Domain = *patch.Domain
	}
	if strings.TrimSpace(conv.Title) == "" {
		return nil, invalid("conversation title is required")
	}
	conv.Length = len(conv.Conversation)
	conv.LastUpdated = time.Now().UTC()

	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, notFound(err, "update conversation %s", id)
	}
	return conv, nil
}

// DeleteConversation removes a conversation together with its annotations.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return notFound(err, "delete conversation %s", id)
	}
	s.log.InfoContext(ctx, "conversation deleted", "conversation_id", id)
	s.notify(id, "")
	return nil
}

// CountConversations is used to decide whether demo data should be seeded.
func (s *Service) CountConversations(ctx context.Context) (int, error) {
	n, err := s.store.CountConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}
