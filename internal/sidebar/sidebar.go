// Package sidebar implements the annotation workflow: collect pending
// selections, pick a rule and a judgment, submit them as annotations.
package sidebar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xiaot623/annotator/internal/domain"
)

// State is the sidebar workflow state.
type State string

const (
	StateClosed     State = "closed"
	StateCollecting State = "collecting"
	StateSubmitting State = "submitting"
)

var (
	// ErrSubmitInFlight is returned when submit is triggered while another
	// submit has not resolved yet.
	ErrSubmitInFlight = errors.New("a submit is already in flight")
	// ErrNoRulesForDomain blocks submission when no rule applies to the
	// conversation's domain.
	ErrNoRulesForDomain = errors.New("no rules exist for this domain")
	// ErrNothingPending is returned by Submit when the sidebar is closed.
	ErrNothingPending = errors.New("no pending selections")
	// ErrUnknownSelection is returned when removing an entry that is gone.
	ErrUnknownSelection = errors.New("unknown pending selection")
)

// ValidationError lists every gate that currently blocks submission.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "annotation form incomplete: " + strings.Join(e.Problems, "; ")
}

// Is lets errors.Is match a blocked-domain validation against ErrNoRulesForDomain.
func (e *ValidationError) Is(target error) bool {
	if target != ErrNoRulesForDomain {
		return false
	}
	for _, p := range e.Problems {
		if p == ErrNoRulesForDomain.Error() {
			return true
		}
	}
	return false
}

// Form is the in-progress judgment shared by all pending selections.
type Form struct {
	RuleID                string               `json:"ruleId"`
	Type                  domain.SelectionType `json:"type"`
	ViolationType         domain.ViolationType `json:"violationType,omitempty"`
	Comment               string               `json:"comment"`
	ReplacementSuggestion string               `json:"replacementSuggestion,omitempty"`
}

// DefaultForm is the form a freshly opened sidebar starts with.
func DefaultForm() Form {
	return Form{Type: domain.SelectionTypeViolation, ViolationType: domain.ViolationTypeText}
}

// Entry is a pending selection with a stable handle for removal.
type Entry struct {
	ID        string                  `json:"id"`
	Selection domain.PendingSelection `json:"selection"`
}

// Submitter persists annotations.
type Submitter interface {
	CreateAnnotation(ctx context.Context, conversationID string, sel domain.Selection, annotator string) (domain.Annotation, error)
}

// Sidebar is the per-view annotation workflow. It is safe for concurrent use;
// the network call of a submit runs without the lock held, so entries may be
// added or removed while it is in flight.
type Sidebar struct {
	mu        sync.Mutex
	conv      *domain.Conversation
	rules     []domain.Rule
	annotator string
	submitter Submitter
	log       *slog.Logger

	state   State
	entries []Entry
	form    Form
	lastErr string
	// generation changes on cancel so a late submit result cannot reopen
	// a sidebar that was closed under it.
	generation int

	onSubmitted func(ctx context.Context, created []domain.Annotation)
}

// Option configures a Sidebar.
type Option func(*Sidebar)

// WithLogger sets the logger used for submit failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sidebar) { s.log = l }
}

// OnSubmitted registers a hook run after annotations were persisted; the
// workbench uses it to reload committed annotations.
func OnSubmitted(fn func(ctx context.Context, created []domain.Annotation)) Option {
	return func(s *Sidebar) { s.onSubmitted = fn }
}

// New creates a closed sidebar for conv. Only rules of the conversation's
// domain are offered.
func New(conv *domain.Conversation, rules []domain.Rule, annotator string, submitter Submitter, opts ...Option) *Sidebar {
	s := &Sidebar{
		conv:      conv,
		rules:     domain.RulesForDomain(rules, conv.Domain),
		annotator: annotator,
		submitter: submitter,
		log:       slog.Default(),
		state:     StateClosed,
		form:      DefaultForm(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRules replaces the rule catalog, keeping the selected rule only if it is
// still offered.
func (s *Sidebar) SetRules(rules []domain.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = domain.RulesForDomain(rules, s.conv.Domain)
	if !s.ruleOffered(s.form.RuleID) {
		s.form.RuleID = ""
	}
}

func (s *Sidebar) ruleOffered(id string) bool {
	for _, r := range s.rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Snapshot is a consistent copy of the sidebar state.
type Snapshot struct {
	State     State         `json:"state"`
	Entries   []Entry       `json:"entries"`
	Form      Form          `json:"form"`
	Rules     []domain.Rule `json:"rules"`
	Error     string        `json:"error,omitempty"`
	CanSubmit bool          `json:"canSubmit"`
	Problems  []string      `json:"problems,omitempty"`
}

// Snapshot returns the current state.
func (s *Sidebar) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:   s.state,
		Entries: append([]Entry(nil), s.entries...),
		Form:    s.form,
		Rules:   append([]domain.Rule(nil), s.rules...),
		Error:   s.lastErr,
	}
	if s.state == StateCollecting {
		if _, err := s.build(); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				snap.Problems = verr.Problems
			}
		} else {
			snap.CanSubmit = true
		}
	}
	return snap
}

// State returns the workflow state.
func (s *Sidebar) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the pending selections in capture order.
func (s *Sidebar) Pending() []domain.PendingSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PendingSelection, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Selection
	}
	return out
}

// Add appends a pending selection and opens the sidebar. It returns the
// entry handle.
func (s *Sidebar) Add(sel domain.PendingSelection) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.entries = append(s.entries, Entry{ID: id, Selection: sel})
	if s.state == StateClosed {
		s.state = StateCollecting
		s.form = DefaultForm()
		s.lastErr = ""
	}
	return id
}

// Remove discards the pending selection with handle id. Removing the last one
// closes the sidebar and clears the form.
func (s *Sidebar) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSelection, id)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	if len(s.entries) == 0 && s.state == StateCollecting {
		s.close()
	}
	return nil
}

// RemoveAt discards the i-th pending selection.
func (s *Sidebar) RemoveAt(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.entries) {
		s.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrUnknownSelection, i)
	}
	id := s.entries[i].ID
	s.mu.Unlock()
	return s.Remove(id)
}

func (s *Sidebar) indexOf(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// SetForm replaces the form input. It has no effect while closed.
func (s *Sidebar) SetForm(f Form) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.form = f
}

// Cancel closes the sidebar and discards pending selections without
// persisting them. A request already in flight still completes on the
// backend; the selections after it are not sent and the outcome no longer
// changes the sidebar.
func (s *Sidebar) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.close()
	s.generation++
}

func (s *Sidebar) close() {
	s.state = StateClosed
	s.form = DefaultForm()
	s.lastErr = ""
}

// Validate reports whether the current form and selections could be
// submitted.
func (s *Sidebar) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.build()
	return err
}

type request struct {
	entryID   string
	selection domain.Selection
}

// build resolves one selection per pending entry. Callers hold mu.
func (s *Sidebar) build() ([]request, error) {
	var problems []string
	if len(s.rules) == 0 {
		problems = append(problems, ErrNoRulesForDomain.Error())
	}
	f := s.form
	if f.RuleID == "" {
		problems = append(problems, "select a rule")
	} else if len(s.rules) > 0 && !s.ruleOffered(f.RuleID) {
		problems = append(problems, fmt.Sprintf("rule %s does not apply to domain %q", f.RuleID, s.conv.Domain))
	}
	if strings.TrimSpace(f.Comment) == "" {
		problems = append(problems, "comment is required")
	}
	if !f.Type.Valid() {
		problems = append(problems, "choose violation or compliance")
	}
	if len(s.entries) == 0 {
		problems = append(problems, ErrNothingPending.Error())
	}

	reqs := make([]request, 0, len(s.entries))
	missingNeedsText := false
	for _, e := range s.entries {
		sel := domain.Selection{
			MessageIndex: e.Selection.MessageIndex,
			StartOffset:  e.Selection.StartOffset,
			EndOffset:    e.Selection.EndOffset,
			RuleID:       f.RuleID,
			Type:         f.Type,
			Comment:      strings.TrimSpace(f.Comment),
		}
		if f.Type == domain.SelectionTypeViolation {
			sel.ViolationType = resolveViolationType(f.ViolationType, e.Selection)
			sel.ReplacementSuggestion = f.ReplacementSuggestion
			if sel.ViolationType == domain.ViolationTypeMissing {
				if strings.TrimSpace(f.ReplacementSuggestion) == "" {
					missingNeedsText = true
				}
			} else {
				sel.ReplacementSuggestion = strings.TrimSpace(f.ReplacementSuggestion)
			}
		}
		reqs = append(reqs, request{entryID: e.ID, selection: sel})
	}
	if missingNeedsText {
		problems = append(problems, "missing text requires the text to insert")
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	for _, r := range reqs {
		if err := r.selection.Validate(s.conv); err != nil {
			return nil, &ValidationError{Problems: []string{err.Error()}}
		}
	}
	return reqs, nil
}

// resolveViolationType picks the violation kind for one selection: an empty
// selection can only mark missing text.
func resolveViolationType(chosen domain.ViolationType, sel domain.PendingSelection) domain.ViolationType {
	if sel.IsInsertionPoint() || strings.TrimSpace(sel.Text) == "" {
		return domain.ViolationTypeMissing
	}
	if chosen == domain.ViolationTypeMissing {
		return domain.ViolationTypeMissing
	}
	return domain.ViolationTypeText
}

// Submit validates the form and creates one annotation per pending selection.
// Validation failures never reach the submitter. On a submitter failure the
// sidebar returns to collecting with the unsubmitted selections intact;
// selections already persisted leave the list.
func (s *Sidebar) Submit(ctx context.Context) ([]domain.Annotation, error) {
	s.mu.Lock()
	switch s.state {
	case StateSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmitInFlight
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrNothingPending
	}
	reqs, err := s.build()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateSubmitting
	s.lastErr = ""
	gen := s.generation
	convID := s.conv.ID
	annotator := s.annotator
	s.mu.Unlock()

	var created []domain.Annotation
	var submitted []string
	var submitErr error
	for _, r := range reqs {
		// Re-read the pending list between calls: a cancel ends the submit,
		// a removed entry is skipped.
		s.mu.Lock()
		cancelled := gen != s.generation
		removed := s.indexOf(r.entryID) < 0
		s.mu.Unlock()
		if cancelled {
			break
		}
		if removed {
			continue
		}

		ann, err := s.submitter.CreateAnnotation(ctx, convID, r.selection, annotator)
		if err != nil {
			submitErr = err
			break
		}
		created = append(created, ann)
		submitted = append(submitted, r.entryID)
	}

	s.mu.Lock()
	if gen == s.generation {
		// Entries may have changed while unlocked; drop only the persisted ones.
		for _, id := range submitted {
			if i := s.indexOf(id); i >= 0 {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
			}
		}
		if submitErr != nil {
			s.state = StateCollecting
			s.lastErr = "Could not save the annotation. Please try again."
			if len(s.entries) == 0 {
				s.close()
			}
		} else if len(s.entries) == 0 {
			s.close()
		} else {
			// Selections captured during the submit stay for another round.
			s.state = StateCollecting
		}
	}
	hook := s.onSubmitted
	s.mu.Unlock()

	if submitErr != nil {
		s.log.ErrorContext(ctx, "annotation submit failed",
			"conversation_id", convID, "created", len(created), "remaining", len(reqs)-len(created), "error", submitErr)
	}
	if len(created) > 0 && hook != nil {
		hook(ctx, created)
	}
	if submitErr != nil {
		return created, fmt.Errorf("create annotation: %w", submitErr)
	}
	return created, nil
}
