// Package service implements the backend business logic behind the REST API:
// the rule catalog, conversations, and annotation admission.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xiaot623/annotator/internal/config"
	"github.com/xiaot623/annotator/internal/policy"
	store "github.com/xiaot623/annotator/internal/repository"
)

var (
	// ErrNotFound is returned when an addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for requests missing required fields.
	ErrInvalid = errors.New("invalid request")
)

// RejectedError is returned when the admission policy refuses an annotation.
type RejectedError struct {
	Reasons []string
}

func (e *RejectedError) Error() string {
	return "annotation rejected: " + strings.Join(e.Reasons, "; ")
}

// Notifier is told when the annotations of a conversation changed.
type Notifier interface {
	AnnotationsChanged(conversationID, annotationID string)
}

type Service struct {
	store        store.Store
	config       *config.Config
	policyEngine *policy.Engine
	notifier     Notifier
	log          *slog.Logger
}

func New(store store.Store, cfg *config.Config, policyEngine *policy.Engine, notifier Notifier) *Service {
	return &Service{
		store:        store,
		config:       cfg,
		policyEngine: policyEngine,
		notifier:     notifier,
		log:          slog.Default().With("component", "service"),
	}
}

// notFound maps the store's not-found error to the service's.
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", fmt.Sprintf(format, args...), err)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (s *Service) notify(conversationID, annotationID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.AnnotationsChanged(conversationID, annotationID)
}
