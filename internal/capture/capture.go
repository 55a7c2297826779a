// Package capture turns a text selection reported by the browser into a
// pending selection with offsets into the raw message text.
//
// The browser never reports document offsets. Each rendered segment carries the
// raw bounds it was composed from, and a selection endpoint is expressed as an
// offset inside one segment. Resolution happens against those bounds and the
// raw message, never against rendered markup, so injected highlights and
// insertion markers cannot shift the result.
package capture

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/xiaot623/annotator/internal/compositor"
	"github.com/xiaot623/annotator/internal/domain"
)

var (
	// ErrCrossMessage is returned when a selection spans two messages.
	ErrCrossMessage = errors.New("selection spans more than one message")
	// ErrOutOfRange is returned when a point does not fall inside the message.
	ErrOutOfRange = errors.New("selection point out of range")
)

// Point is one end of a selection, relative to a rendered segment.
type Point struct {
	MessageIndex int `json:"messageIndex"`
	// SegmentStart and SegmentEnd are the raw bounds of the segment.
	SegmentStart int `json:"segmentStart"`
	SegmentEnd   int `json:"segmentEnd"`
	// Offset is the character offset inside the segment's rendered text.
	Offset int `json:"offset"`
	// Insertion is set when the segment is a synthetic insertion marker; such
	// a segment maps to its raw position whatever the offset.
	Insertion bool `json:"insertion,omitempty"`
}

// Range is a selection as reported by the browser on pointer release.
type Range struct {
	Anchor    Point  `json:"anchor"`
	Focus     Point  `json:"focus"`
	Collapsed bool   `json:"collapsed"`
	Text      string `json:"text"`
}

// resolve maps p onto a raw offset in a message of length n.
func resolve(p Point, n int) (int, error) {
	if p.SegmentStart < 0 || p.SegmentEnd < p.SegmentStart || p.SegmentEnd > n {
		return 0, fmt.Errorf("%w: segment [%d,%d) in message of length %d", ErrOutOfRange, p.SegmentStart, p.SegmentEnd, n)
	}
	if p.Insertion {
		return p.SegmentStart, nil
	}
	off := p.Offset
	if off < 0 {
		off = 0
	}
	if width := p.SegmentEnd - p.SegmentStart; off > width {
		off = width
	}
	return p.SegmentStart + off, nil
}

// Capture converts r into a pending selection against the raw messages of
// conv. A collapsed or whitespace-only selection is not an error: ok is false
// and nothing should be recorded.
func Capture(conv *domain.Conversation, r Range) (sel domain.PendingSelection, ok bool, err error) {
	if r.Collapsed {
		return domain.PendingSelection{}, false, nil
	}
	if r.Anchor.MessageIndex != r.Focus.MessageIndex {
		return domain.PendingSelection{}, false, ErrCrossMessage
	}
	msg, found := conv.MessageAt(r.Anchor.MessageIndex)
	if !found {
		return domain.PendingSelection{}, false, fmt.Errorf("%w: message %d", ErrOutOfRange, r.Anchor.MessageIndex)
	}

	raw := []rune(msg.Message)
	start, err := resolve(r.Anchor, len(raw))
	if err != nil {
		return domain.PendingSelection{}, false, err
	}
	end, err := resolve(r.Focus, len(raw))
	if err != nil {
		return domain.PendingSelection{}, false, err
	}
	if end < start {
		start, end = end, start
	}

	for start < end && unicode.IsSpace(raw[start]) {
		start++
	}
	for end > start && unicode.IsSpace(raw[end-1]) {
		end--
	}
	if start == end {
		return domain.PendingSelection{}, false, nil
	}

	return domain.PendingSelection{
		MessageIndex: r.Anchor.MessageIndex,
		StartOffset:  start,
		EndOffset:    end,
		Text:         string(raw[start:end]),
	}, true, nil
}

// InsertionPoint converts a caret position into a zero-width pending selection
// marking where text is missing.
func InsertionPoint(conv *domain.Conversation, p Point) (domain.PendingSelection, error) {
	msg, found := conv.MessageAt(p.MessageIndex)
	if !found {
		return domain.PendingSelection{}, fmt.Errorf("%w: message %d", ErrOutOfRange, p.MessageIndex)
	}
	pos, err := resolve(p, msg.Len())
	if err != nil {
		return domain.PendingSelection{}, err
	}
	return domain.PendingSelection{MessageIndex: p.MessageIndex, StartOffset: pos, EndOffset: pos}, nil
}

// FromOffsets builds a pending selection from raw offsets, as used by clients
// that address the message text directly. The span is trimmed like a browser
// selection; a zero-width span is an insertion point.
func FromOffsets(conv *domain.Conversation, messageIndex, start, end int) (domain.PendingSelection, error) {
	msg, found := conv.MessageAt(messageIndex)
	if !found {
		return domain.PendingSelection{}, fmt.Errorf("%w: message %d", ErrOutOfRange, messageIndex)
	}
	n := msg.Len()
	if start < 0 || end < start || end > n {
		return domain.PendingSelection{}, fmt.Errorf("%w: [%d,%d) in message of length %d", ErrOutOfRange, start, end, n)
	}
	if start == end {
		return domain.PendingSelection{MessageIndex: messageIndex, StartOffset: start, EndOffset: end}, nil
	}
	p := Point{MessageIndex: messageIndex, SegmentStart: 0, SegmentEnd: n}
	a, b := p, p
	a.Offset, b.Offset = start, end
	sel, ok, err := Capture(conv, Range{Anchor: a, Focus: b})
	if err != nil {
		return domain.PendingSelection{}, err
	}
	if !ok {
		return domain.PendingSelection{}, fmt.Errorf("%w: [%d,%d) contains only whitespace", ErrOutOfRange, start, end)
	}
	return sel, nil
}

// PointIn returns the selection point for offset inside segment i of plan.
func PointIn(plan compositor.Plan, i, offset int) (Point, error) {
	if i < 0 || i >= len(plan.Segments) {
		return Point{}, fmt.Errorf("%w: segment %d of %d", ErrOutOfRange, i, len(plan.Segments))
	}
	s := plan.Segments[i]
	return Point{
		MessageIndex: plan.MessageIndex,
		SegmentStart: s.Start,
		SegmentEnd:   s.End,
		Offset:       offset,
		Insertion:    s.Kind == compositor.SegmentInsertion,
	}, nil
}
