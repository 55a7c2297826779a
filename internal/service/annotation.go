package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/metrics"
	"github.com/xiaot623/annotator/internal/policy"
	"github.com/xiaot623/annotator/internal/schema"
)

// ListAnnotations returns the annotations of one conversation, or all of
// them when conversationID is empty.
func (s *Service) ListAnnotations(ctx context.Context, conversationID string) ([]domain.Annotation, error) {
	anns, err := s.store.ListAnnotations(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	return anns, nil
}

// CreateAnnotation admits and stores an annotation. The conversation and the
// rule must exist; the admission policy decides the rest.
func (s *Service) CreateAnnotation(ctx context.Context, ann domain.Annotation) (*domain.Annotation, error) {
	conv, err := s.store.GetConversation(ctx, ann.ConversationID)
	if err != nil {
		return nil, notFound(err, "create annotation: conversation %s", ann.ConversationID)
	}
	rule, err := s.store.GetRule(ctx, ann.Selection.RuleID)
	if err != nil {
		return nil, notFound(err, "create annotation: rule %s", ann.Selection.RuleID)
	}

	if ann.Annotator == "" {
		ann.Annotator = s.config.Annotator
	}

	lengths := make([]int, len(conv.Conversation))
	for i, m := range conv.Conversation {
		lengths[i] = m.Len()
	}
	reasons, err := s.policyEngine.Evaluate(ctx, policy.Input{
		Selection:    schema.SelectionToDoc(ann.Selection),
		Rule:         policy.RuleRef{ID: rule.ID, Domain: rule.Domain},
		Conversation: policy.ConversationRef{ID: conv.ID, Domain: conv.Domain, MessageLengths: lengths},
		Annotator:    ann.Annotator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check annotation: %w", err)
	}
	if len(reasons) > 0 {
		metrics.PolicyRejections.Inc()
		s.log.WarnContext(ctx, "annotation rejected", "conversation_id", conv.ID, "reasons", reasons)
		return nil, &RejectedError{Reasons: reasons}
	}

	ann.ID = uuid.NewString()
	if ann.Timestamp.IsZero() {
		ann.Timestamp = time.Now().UTC()
	}
	if err := s.store.CreateAnnotation(ctx, &ann); err != nil {
		return nil, fmt.Errorf("failed to create annotation: %w", err)
	}

	metrics.AnnotationsCreated.WithLabelValues(string(ann.Selection.Type), string(ann.Selection.ViolationType)).Inc()
	s.log.InfoContext(ctx, "annotation created",
		"annotation_id", ann.ID, "conversation_id", ann.ConversationID, "message_index", ann.Selection.MessageIndex)
	s.notify(ann.ConversationID, ann.ID)
	return &ann, nil
}
