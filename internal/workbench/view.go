// Package workbench holds the per-view state of the annotation workbench: the
// raw text of the opened conversation, the loaded rules and annotations, the
// sidebar workflow, and the render plans derived from all of them.
package workbench

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/xiaot623/annotator/internal/adapter/backend"
	"github.com/xiaot623/annotator/internal/capture"
	"github.com/xiaot623/annotator/internal/compositor"
	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/fixture"
	"github.com/xiaot623/annotator/internal/logger"
	"github.com/xiaot623/annotator/internal/metrics"
	"github.com/xiaot623/annotator/internal/sidebar"
)

// Source is where a view reads conversations, rules and annotations from and
// where the sidebar submits to. The store client and the fixture implement it.
type Source interface {
	ListRules(ctx context.Context, domainName string) ([]domain.Rule, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListAnnotations(ctx context.Context, conversationID string) ([]domain.Annotation, error)
	CreateAnnotation(ctx context.Context, conversationID string, sel domain.Selection, annotator string) (domain.Annotation, error)
}

var (
	// ErrViewNotFound is returned for an unknown or closed view id.
	ErrViewNotFound = errors.New("view not found")
	// ErrConversationNotFound is returned when the source has no such conversation.
	ErrConversationNotFound = errors.New("conversation not found")
)

// loadFailed is the message shown when rules or annotations could not be loaded.
const loadFailed = "Could not load annotations. Showing the last loaded state."

func isNotFound(err error) bool {
	return errors.Is(err, backend.ErrNotFound) || errors.Is(err, fixture.ErrNotFound)
}

// View is one opened conversation. The conversation is kept as loaded and is
// the only text offsets are ever computed against.
type View struct {
	id      string
	conv    *domain.Conversation
	source  Source
	sidebar *sidebar.Sidebar
	ctx     context.Context

	mu          sync.RWMutex
	annotations []domain.Annotation
	plans       []compositor.Plan
	loadErr     string
}

// State is a consistent copy of everything the page renders.
type State struct {
	ViewID       string               `json:"viewId"`
	Conversation *domain.Conversation `json:"conversation"`
	Plans        []compositor.Plan    `json:"plans"`
	Annotations  []domain.Annotation  `json:"annotations"`
	Sidebar      sidebar.Snapshot     `json:"sidebar"`
	LoadError    string               `json:"loadError,omitempty"`
}

func newView(id string, conv *domain.Conversation, source Source, annotator string) *View {
	v := &View{
		id:     id,
		conv:   conv,
		source: source,
		ctx: logger.WithFields(context.Background(), logger.Fields{
			Component:      "workbench",
			ConversationID: conv.ID,
			ViewID:         id,
		}),
	}
	v.sidebar = sidebar.New(conv, nil, annotator, source,
		sidebar.OnSubmitted(func(ctx context.Context, created []domain.Annotation) {
			slog.InfoContext(v.ctx, "annotations submitted", "count", len(created))
			_ = v.Reload(ctx)
		}),
	)
	return v
}

// ID returns the view identifier.
func (v *View) ID() string {
	return v.id
}

// Conversation returns the conversation as it was loaded.
func (v *View) Conversation() *domain.Conversation {
	return v.conv
}

// Reload fetches the rules of the conversation's domain and its committed
// annotations, then re-renders. On failure the previously loaded data stays
// and a load error is recorded.
func (v *View) Reload(ctx context.Context) error {
	rules, err := v.source.ListRules(ctx, v.conv.Domain)
	if err == nil {
		var anns []domain.Annotation
		anns, err = v.source.ListAnnotations(ctx, v.conv.ID)
		if err == nil {
			v.sidebar.SetRules(rules)
			v.mu.Lock()
			v.annotations = anns
			v.loadErr = ""
			v.mu.Unlock()
		}
	}
	if err != nil {
		slog.ErrorContext(v.ctx, "failed to load annotations", "error", err)
		v.mu.Lock()
		v.loadErr = loadFailed
		v.mu.Unlock()
	}
	v.render()
	return err
}

// render rebuilds every plan from the committed and pending sets.
func (v *View) render() {
	pending := v.sidebar.Pending()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.plans = compositor.ComposeConversation(v.conv, v.annotations, pending)
	overlaps := 0
	for _, p := range v.plans {
		overlaps += p.Overlaps()
	}
	metrics.PlansRendered.Add(float64(len(v.plans)))
	metrics.OverlappingSegments.Add(float64(overlaps))
}

// Plans returns the current render plans, one per message.
func (v *View) Plans() []compositor.Plan {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]compositor.Plan(nil), v.plans...)
}

// Annotations returns the committed annotations as last loaded.
func (v *View) Annotations() []domain.Annotation {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]domain.Annotation(nil), v.annotations...)
}

// State returns a snapshot of the view.
func (v *View) State() State {
	snap := v.sidebar.Snapshot()

	v.mu.RLock()
	defer v.mu.RUnlock()
	return State{
		ViewID:       v.id,
		Conversation: v.conv,
		Plans:        append([]compositor.Plan(nil), v.plans...),
		Annotations:  append([]domain.Annotation(nil), v.annotations...),
		Sidebar:      snap,
		LoadError:    v.loadErr,
	}
}

// Capture adds the selection r to the pending list. A collapsed or
// whitespace-only selection is a no-op and returns ok == false.
func (v *View) Capture(r capture.Range) (entryID string, ok bool, err error) {
	sel, ok, err := capture.Capture(v.conv, r)
	if err != nil || !ok {
		return "", ok, err
	}
	entryID = v.sidebar.Add(sel)
	v.render()
	return entryID, true, nil
}

// AddInsertionPoint adds a missing-text insertion point at p.
func (v *View) AddInsertionPoint(p capture.Point) (string, error) {
	sel, err := capture.InsertionPoint(v.conv, p)
	if err != nil {
		return "", err
	}
	id := v.sidebar.Add(sel)
	v.render()
	return id, nil
}

// AddOffsets adds a pending selection given directly as raw offsets; equal
// offsets add an insertion point.
func (v *View) AddOffsets(messageIndex, start, end int) (string, error) {
	sel, err := capture.FromOffsets(v.conv, messageIndex, start, end)
	if err != nil {
		return "", err
	}
	id := v.sidebar.Add(sel)
	v.render()
	return id, nil
}

// Remove drops a pending selection.
func (v *View) Remove(entryID string) error {
	if err := v.sidebar.Remove(entryID); err != nil {
		return err
	}
	v.render()
	return nil
}

// SetForm updates the sidebar form.
func (v *View) SetForm(f sidebar.Form) {
	v.sidebar.SetForm(f)
}

// Cancel closes the sidebar and discards the pending selections.
func (v *View) Cancel() {
	v.sidebar.Cancel()
	v.render()
}

// Submit submits the sidebar. Committed annotations are reloaded on success.
func (v *View) Submit(ctx context.Context) ([]domain.Annotation, error) {
	created, err := v.sidebar.Submit(ctx)
	if len(created) == 0 {
		// The reload hook did not run, but the pending set may have changed.
		v.render()
	}
	return created, err
}
