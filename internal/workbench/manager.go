package workbench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/xiaot623/annotator/internal/domain"
)

// DefaultMaxViews bounds the number of open views kept by a Manager.
const DefaultMaxViews = 256

// Manager opens and tracks views. Every open gets its own view, so two pages
// on the same conversation do not share pending selections.
type Manager struct {
	source    Source
	annotator string
	maxViews  int

	mu    sync.Mutex
	views map[string]*View
	order []string
}

// NewManager creates a manager over source. annotator is recorded on every
// submitted annotation.
func NewManager(source Source, annotator string) *Manager {
	return &Manager{
		source:    source,
		annotator: annotator,
		maxViews:  DefaultMaxViews,
		views:     make(map[string]*View),
	}
}

// Conversations lists the conversations available for annotation.
func (m *Manager) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	return m.source.ListConversations(ctx)
}

// Open loads a conversation into a new view. A failure to load rules or
// annotations still opens the view, with the load error recorded.
func (m *Manager) Open(ctx context.Context, conversationID string) (*View, error) {
	conv, err := m.source.GetConversation(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}

	v := newView(uuid.NewString(), conv, m.source, m.annotator)
	_ = v.Reload(ctx)

	m.mu.Lock()
	m.views[v.id] = v
	m.order = append(m.order, v.id)
	for len(m.order) > m.maxViews {
		delete(m.views, m.order[0])
		m.order = m.order[1:]
	}
	m.mu.Unlock()

	slog.InfoContext(v.ctx, "view opened", "messages", len(conv.Conversation))
	return v, nil
}

// Get returns an open view.
func (m *Manager) Get(id string) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, id)
	}
	return v, nil
}

// Close forgets a view. Pending selections are discarded.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.views, id)
	for i, vid := range m.order {
		if vid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of open views.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}
