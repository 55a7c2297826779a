// Package schema is the single mapping layer between the client-side domain
// shapes (mixed-case fields, `id`) and the backend wire shapes (separated-word
// fields, `_id`). Every network boundary goes through these functions, in both
// directions. Decoding is fail-closed: a document missing a required field is
// rejected as a whole.
package schema

import (
	"errors"
	"fmt"

	"github.com/xiaot623/annotator/internal/domain"
)

// ErrShape is wrapped by every decoding failure caused by an unexpected payload.
var ErrShape = errors.New("unexpected payload shape")

// MessageDoc is the wire form of a conversation message.
type MessageDoc struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp Time   `json:"timestamp"`
}

// ConversationDoc is the wire form of a conversation.
type ConversationDoc struct {
	ID           string       `json:"_id,omitempty"`
	Title        string       `json:"title"`
	Categories   []string     `json:"categories"`
	Conversation []MessageDoc `json:"conversation"`
	PostURL      string       `json:"post_url"`
	Length       int          `json:"length"`
	LastUpdated  Time         `json:"last_updated"`
	Domain       string       `json:"domain"`
}

// ConversationPatchDoc is the wire form of a partial conversation update.
type ConversationPatchDoc struct {
	Title        *string      `json:"title,omitempty"`
	Categories   []string     `json:"categories,omitempty"`
	Conversation []MessageDoc `json:"conversation,omitempty"`
	PostURL      *string      `json:"post_url,omitempty"`
	Domain       *string      `json:"domain,omitempty"`
}

// RuleDoc is the wire form of a rule.
type RuleDoc struct {
	ID          string `json:"_id,omitempty"`
	Domain      string `json:"domain"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// RulePatchDoc is the wire form of a partial rule update.
type RulePatchDoc struct {
	Domain      *string `json:"domain,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// SelectionDoc is the wire form of a selection. Offsets are pointers so that
// an absent offset can be told apart from zero.
type SelectionDoc struct {
	MessageIndex          *int   `json:"message_index"`
	StartOffset           *int   `json:"start_offset"`
	EndOffset             *int   `json:"end_offset"`
	RuleID                string `json:"rule_id"`
	Type                  string `json:"type"`
	ViolationType         string `json:"violation_type,omitempty"`
	Comment               string `json:"comment"`
	ReplacementSuggestion string `json:"replacement_suggestion,omitempty"`
}

// AnnotationDoc is the wire form of an annotation, used for both the create
// request body and responses.
type AnnotationDoc struct {
	ID             string        `json:"_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	Selection      *SelectionDoc `json:"selection"`
	Annotator      string        `json:"annotator"`
	Timestamp      *Time         `json:"timestamp,omitempty"`
}

func intPtr(v int) *int { return &v }

// SelectionToDoc converts a selection to its wire form.
func SelectionToDoc(s domain.Selection) SelectionDoc {
	return SelectionDoc{
		MessageIndex:          intPtr(s.MessageIndex),
		StartOffset:           intPtr(s.StartOffset),
		EndOffset:             intPtr(s.EndOffset),
		RuleID:                s.RuleID,
		Type:                  string(s.Type),
		ViolationType:         string(s.ViolationType),
		Comment:               s.Comment,
		ReplacementSuggestion: s.ReplacementSuggestion,
	}
}

// SelectionFromDoc converts a wire selection to the domain form.
func SelectionFromDoc(d SelectionDoc) (domain.Selection, error) {
	if d.MessageIndex == nil {
		return domain.Selection{}, fmt.Errorf("%w: selection.message_index is missing", ErrShape)
	}
	if d.StartOffset == nil {
		return domain.Selection{}, fmt.Errorf("%w: selection.start_offset is missing", ErrShape)
	}
	if d.EndOffset == nil {
		return domain.Selection{}, fmt.Errorf("%w: selection.end_offset is missing", ErrShape)
	}
	st := domain.SelectionType(d.Type)
	if !st.Valid() {
		return domain.Selection{}, fmt.Errorf("%w: selection.type %q", ErrShape, d.Type)
	}
	vt := domain.ViolationType(d.ViolationType)
	if vt != "" && !vt.Valid() {
		return domain.Selection{}, fmt.Errorf("%w: selection.violation_type %q", ErrShape, d.ViolationType)
	}
	return domain.Selection{
		MessageIndex:          *d.MessageIndex,
		StartOffset:           *d.StartOffset,
		EndOffset:             *d.EndOffset,
		RuleID:                d.RuleID,
		Type:                  st,
		ViolationType:         vt,
		Comment:               d.Comment,
		ReplacementSuggestion: d.ReplacementSuggestion,
	}, nil
}

// AnnotationToDoc converts an annotation to its wire form. A zero timestamp
// is left out so the backend can assign one.
func AnnotationToDoc(a domain.Annotation) AnnotationDoc {
	sel := SelectionToDoc(a.Selection)
	doc := AnnotationDoc{
		ID:             a.ID,
		ConversationID: a.ConversationID,
		Selection:      &sel,
		Annotator:      a.Annotator,
	}
	if !a.Timestamp.IsZero() {
		ts := NewTime(a.Timestamp)
		doc.Timestamp = &ts
	}
	return doc
}

// AnnotationFromDoc converts a wire annotation received from the backend.
// The identifier is required.
func AnnotationFromDoc(d AnnotationDoc) (domain.Annotation, error) {
	if d.ID == "" {
		return domain.Annotation{}, fmt.Errorf("%w: annotation._id is missing", ErrShape)
	}
	return annotationFromDoc(d)
}

// AnnotationRequestFromDoc converts a create-annotation request body, which
// carries no identifier yet.
func AnnotationRequestFromDoc(d AnnotationDoc) (domain.Annotation, error) {
	return annotationFromDoc(d)
}

func annotationFromDoc(d AnnotationDoc) (domain.Annotation, error) {
	if d.ConversationID == "" {
		return domain.Annotation{}, fmt.Errorf("%w: annotation.conversation_id is missing", ErrShape)
	}
	if d.Selection == nil {
		return domain.Annotation{}, fmt.Errorf("%w: annotation.selection is missing", ErrShape)
	}
	sel, err := SelectionFromDoc(*d.Selection)
	if err != nil {
		return domain.Annotation{}, err
	}
	a := domain.Annotation{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Selection:      sel,
		Annotator:      d.Annotator,
	}
	if d.Timestamp != nil {
		a.Timestamp = d.Timestamp.Time
	}
	return a, nil
}

// AnnotationsFromDocs converts a list, rejecting it if any element is malformed.
func AnnotationsFromDocs(docs []AnnotationDoc) ([]domain.Annotation, error) {
	out := make([]domain.Annotation, 0, len(docs))
	for i, d := range docs {
		a, err := AnnotationFromDoc(d)
		if err != nil {
			return nil, fmt.Errorf("annotation %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// RuleToDoc converts a rule to its wire form.
func RuleToDoc(r domain.Rule) RuleDoc {
	return RuleDoc{
		ID:          r.ID,
		Domain:      r.Domain,
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
	}
}

// RuleFromDoc converts a wire rule received from the backend.
func RuleFromDoc(d RuleDoc) (domain.Rule, error) {
	if d.ID == "" {
		return domain.Rule{}, fmt.Errorf("%w: rule._id is missing", ErrShape)
	}
	return domain.Rule{
		ID:          d.ID,
		Domain:      d.Domain,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
	}, nil
}

// RuleRequestFromDoc converts a create-rule request body, which carries no
// identifier yet.
func RuleRequestFromDoc(d RuleDoc) domain.Rule {
	return domain.Rule{
		ID:          d.ID,
		Domain:      d.Domain,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
	}
}

// RulesFromDocs converts a list, rejecting it if any element is malformed.
func RulesFromDocs(docs []RuleDoc) ([]domain.Rule, error) {
	out := make([]domain.Rule, 0, len(docs))
	for i, d := range docs {
		r, err := RuleFromDoc(d)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// RulePatchToDoc converts a partial rule update to its wire form.
func RulePatchToDoc(p domain.RulePatch) RulePatchDoc {
	return RulePatchDoc{
		Domain:      p.Domain,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
	}
}

// RulePatchFromDoc converts a wire partial rule update.
func RulePatchFromDoc(d RulePatchDoc) domain.RulePatch {
	return domain.RulePatch{
		Domain:      d.Domain,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
	}
}

func messagesToDocs(msgs []domain.Message) []MessageDoc {
	if msgs == nil {
		return nil
	}
	out := make([]MessageDoc, len(msgs))
	for i, m := range msgs {
		out[i] = MessageDoc{Author: m.Author, Message: m.Message, Timestamp: NewTime(m.Timestamp)}
	}
	return out
}

func messagesFromDocs(docs []MessageDoc) []domain.Message {
	if docs == nil {
		return nil
	}
	out := make([]domain.Message, len(docs))
	for i, d := range docs {
		out[i] = domain.Message{Author: d.Author, Message: d.Message, Timestamp: d.Timestamp.Time}
	}
	return out
}

// ConversationToDoc converts a conversation to its wire form.
func ConversationToDoc(c domain.Conversation) ConversationDoc {
	return ConversationDoc{
		ID:           c.ID,
		Title:        c.Title,
		Categories:   c.Categories,
		Conversation: messagesToDocs(c.Conversation),
		PostURL:      c.PostURL,
		Length:       c.Length,
		LastUpdated:  NewTime(c.LastUpdated),
		Domain:       c.Domain,
	}
}

// ConversationFromDoc converts a wire conversation received from the backend.
func ConversationFromDoc(d ConversationDoc) (domain.Conversation, error) {
	if d.ID == "" {
		return domain.Conversation{}, fmt.Errorf("%w: conversation._id is missing", ErrShape)
	}
	if d.Conversation == nil {
		return domain.Conversation{}, fmt.Errorf("%w: conversation.conversation is missing", ErrShape)
	}
	return ConversationRequestFromDoc(d), nil
}

// ConversationRequestFromDoc converts a create-conversation request body.
func ConversationRequestFromDoc(d ConversationDoc) domain.Conversation {
	return domain.Conversation{
		ID:           d.ID,
		Title:        d.Title,
		Categories:   d.Categories,
		Conversation: messagesFromDocs(d.Conversation),
		PostURL:      d.PostURL,
		Length:       d.Length,
		LastUpdated:  d.LastUpdated.Time,
		Domain:       d.Domain,
	}
}

// ConversationsFromDocs converts a list, rejecting it if any element is malformed.
func ConversationsFromDocs(docs []ConversationDoc) ([]domain.Conversation, error) {
	out := make([]domain.Conversation, 0, len(docs))
	for i, d := range docs {
		c, err := ConversationFromDoc(d)
		if err != nil {
			return nil, fmt.Errorf("conversation %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// ConversationPatchToDoc converts a partial conversation update to its wire form.
func ConversationPatchToDoc(p domain.ConversationPatch) ConversationPatchDoc {
	return ConversationPatchDoc{
		Title:        p.Title,
		Categories:   p.Categories,
		Conversation: messagesToDocs(p.Conversation),
		PostURL:      p.PostURL,
		Domain:       p.Domain,
	}
}

// ConversationPatchFromDoc converts a wire partial conversation update.
func ConversationPatchFromDoc(d ConversationPatchDoc) domain.ConversationPatch {
	return domain.ConversationPatch{
		Title:        d.Title,
		Categories:   d.Categories,
		Conversation: messagesFromDocs(d.Conversation),
		PostURL:      d.PostURL,
		Domain:       d.Domain,
	}
}
