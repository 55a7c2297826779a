package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSelection is wrapped by every selection validation failure.
var ErrInvalidSelection = errors.New("invalid selection")

// Selection is the atomic judgment unit: a span (or insertion point) inside
// one message, judged against one rule.
type Selection struct {
	MessageIndex          int           `json:"messageIndex"`
	StartOffset           int           `json:"startOffset"`
	EndOffset             int           `json:"endOffset"`
	RuleID                string        `json:"ruleId"`
	Type                  SelectionType `json:"type"`
	ViolationType         ViolationType `json:"violationType,omitempty"`
	Comment               string        `json:"comment"`
	ReplacementSuggestion string        `json:"replacementSuggestion,omitempty"`
}

// IsMissingText reports whether s marks an insertion point rather than a span.
func (s Selection) IsMissingText() bool {
	return s.Type == SelectionTypeViolation && s.ViolationType == ViolationTypeMissing
}

// Check validates the fields of s that do not depend on the message text.
func (s Selection) Check() error {
	if s.MessageIndex < 0 {
		return fmt.Errorf("%w: messageIndex %d is negative", ErrInvalidSelection, s.MessageIndex)
	}
	if s.StartOffset < 0 {
		return fmt.Errorf("%w: startOffset %d is negative", ErrInvalidSelection, s.StartOffset)
	}
	if s.EndOffset < s.StartOffset {
		return fmt.Errorf("%w: endOffset %d before startOffset %d", ErrInvalidSelection, s.EndOffset, s.StartOffset)
	}
	if strings.TrimSpace(s.RuleID) == "" {
		return fmt.Errorf("%w: ruleId is required", ErrInvalidSelection)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSelection, s.Type)
	}
	switch s.Type {
	case SelectionTypeViolation:
		if !s.ViolationType.Valid() {
			return fmt.Errorf("%w: unknown violationType %q", ErrInvalidSelection, s.ViolationType)
		}
		if s.ViolationType == ViolationTypeMissing && strings.TrimSpace(s.ReplacementSuggestion) == "" {
			return fmt.Errorf("%w: missing-text violation needs a replacementSuggestion", ErrInvalidSelection)
		}
	case SelectionTypeCompliance:
		if s.ViolationType != "" {
			return fmt.Errorf("%w: violationType is only allowed on violations", ErrInvalidSelection)
		}
	}
	if strings.TrimSpace(s.Comment) == "" {
		return fmt.Errorf("%w: comment is required", ErrInvalidSelection)
	}
	return nil
}

// Validate checks s against the conversation it refers to.
func (s Selection) Validate(conv *Conversation) error {
	if err := s.Check(); err != nil {
		return err
	}
	msg, ok := conv.MessageAt(s.MessageIndex)
	if !ok {
		return fmt.Errorf("%w: messageIndex %d out of range (%d messages)", ErrInvalidSelection, s.MessageIndex, len(conv.Conversation))
	}
	if n := msg.Len(); s.EndOffset > n {
		return fmt.Errorf("%w: endOffset %d beyond message length %d", ErrInvalidSelection, s.EndOffset, n)
	}
	return nil
}

// PendingSelection is a captured span that has not been submitted yet.
type PendingSelection struct {
	MessageIndex int    `json:"messageIndex"`
	StartOffset  int    `json:"startOffset"`
	EndOffset    int    `json:"endOffset"`
	Text         string `json:"text"`
}

// IsInsertionPoint reports whether p marks a place where text is missing.
func (p PendingSelection) IsInsertionPoint() bool {
	return p.StartOffset == p.EndOffset
}
