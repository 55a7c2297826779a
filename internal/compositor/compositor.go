// Package compositor merges a message's raw text and its annotation marks
// (committed and pending) into one ordered, non-overlapping render plan.
//
// Marks are applied with explicit interval splitting: every mark boundary cuts
// the text, and each resulting run is styled by the covering mark that was
// encountered last. Insertion markers never consume text. As a consequence the
// text of the plain and highlight segments, concatenated, is always exactly
// the raw message.
package compositor

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/xiaot623/annotator/internal/domain"
)

// MarkKind classifies a mark.
type MarkKind string

const (
	MarkPending          MarkKind = "pending"
	MarkViolationText    MarkKind = "violation_text"
	MarkViolationMissing MarkKind = "violation_missing"
	MarkCompliance       MarkKind = "compliance"
)

// Style is the visual class of a segment.
type Style string

const (
	StyleNone        Style = ""
	StyleProvisional Style = "provisional"
	StyleAlert       Style = "alert"
	StyleAffirmative Style = "affirmative"
	StyleInsertion   Style = "insertion"
)

// StyleFor returns the style a mark kind renders with.
func StyleFor(kind MarkKind) Style {
	switch kind {
	case MarkPending:
		return StyleProvisional
	case MarkViolationText:
		return StyleAlert
	case MarkCompliance:
		return StyleAffirmative
	case MarkViolationMissing:
		return StyleInsertion
	default:
		return StyleNone
	}
}

// Mark is one annotation (or pending selection) scoped to a single message.
// Offsets are code-point indices into the raw message text.
type Mark struct {
	Start   int
	End     int
	Kind    MarkKind
	Comment string
	// Insert is the visible content of an insertion marker.
	Insert string
	// Ref identifies the source: an annotation id, or "pending:<n>".
	Ref string
}

// IsInsertion reports whether m renders as an inline marker rather than a span.
// Missing-text violations always do; a zero-width pending selection is a
// provisional insertion point.
func (m Mark) IsInsertion() bool {
	return m.Kind == MarkViolationMissing || (m.Kind == MarkPending && m.Start == m.End)
}

// SegmentKind distinguishes raw text from synthetic inserted content.
type SegmentKind string

const (
	SegmentPlain     SegmentKind = "plain"
	SegmentHighlight SegmentKind = "highlight"
	SegmentInsertion SegmentKind = "insertion"
)

// Segment is one piece of the render plan. Start and End are the raw offsets
// the segment covers; an insertion has Start == End.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Text    string      `json:"text"`
	Start   int         `json:"start"`
	End     int         `json:"end"`
	Style   Style       `json:"style,omitempty"`
	Tooltip string      `json:"tooltip,omitempty"`
	// Marks indexes the input marks covering this segment, in encounter order.
	Marks []int `json:"marks,omitempty"`
}

// Overlapping reports whether more than one mark covers the segment.
func (s Segment) Overlapping() bool {
	return s.Kind == SegmentHighlight && len(s.Marks) > 1
}

// Plan is the render plan for one message.
type Plan struct {
	MessageIndex int       `json:"messageIndex"`
	Segments     []Segment `json:"segments"`
}

// Text concatenates the plain and highlight segments, skipping insertions.
// For any plan produced by Compose this equals the raw message.
func (p Plan) Text() string {
	var b strings.Builder
	for _, s := range p.Segments {
		if s.Kind != SegmentInsertion {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Overlaps counts highlight segments covered by more than one mark.
func (p Plan) Overlaps() int {
	n := 0
	for _, s := range p.Segments {
		if s.Overlapping() {
			n++
		}
	}
	return n
}

type indexedMark struct {
	Mark
	order int
}

// Compose builds the render plan for text and marks. Marks are clamped to the
// text; marks are taken in the order given (the encounter order), stably
// sorted by start offset.
func Compose(messageIndex int, text string, marks []Mark) Plan {
	runes := []rune(text)
	n := len(runes)

	sorted := make([]indexedMark, len(marks))
	for i, m := range marks {
		m.Start = clamp(m.Start, 0, n)
		m.End = clamp(m.End, m.Start, n)
		if m.IsInsertion() {
			m.End = m.Start
		}
		sorted[i] = indexedMark{Mark: m, order: i}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	points := boundaries(sorted, n)
	plan := Plan{MessageIndex: messageIndex, Segments: make([]Segment, 0, 2*len(marks)+1)}
	cursor := 0

	emitPlain := func(to int) {
		plan.Segments = append(plan.Segments, Segment{
			Kind:  SegmentPlain,
			Text:  string(runes[cursor:to]),
			Start: cursor,
			End:   to,
		})
		cursor = to
	}

	for i, p := range points {
		for _, m := range sorted {
			if !m.IsInsertion() || m.Start != p {
				continue
			}
			emitPlain(p)
			plan.Segments = append(plan.Segments, Segment{
				Kind:    SegmentInsertion,
				Text:    m.Insert,
				Start:   p,
				End:     p,
				Style:   StyleFor(m.Kind),
				Tooltip: m.Comment,
				Marks:   []int{m.order},
			})
		}
		if i == len(points)-1 {
			break
		}
		q := points[i+1]
		covering := coveringMarks(sorted, p, q)
		if len(covering) == 0 {
			continue
		}

		if last := len(plan.Segments) - 1; last >= 0 && cursor == p &&
			plan.Segments[last].Kind == SegmentHighlight && slices.Equal(plan.Segments[last].Marks, covering) {
			plan.Segments[last].Text += string(runes[p:q])
			plan.Segments[last].End = q
			cursor = q
			continue
		}

		emitPlain(p)
		plan.Segments = append(plan.Segments, highlight(runes, p, q, covering, sorted))
		cursor = q
	}
	emitPlain(n)

	return plan
}

func highlight(runes []rune, p, q int, covering []int, sorted []indexedMark) Segment {
	byOrder := make(map[int]indexedMark, len(covering))
	for _, m := range sorted {
		byOrder[m.order] = m
	}
	top := byOrder[covering[len(covering)-1]]

	var comments []string
	for _, idx := range covering {
		if c := strings.TrimSpace(byOrder[idx].Comment); c != "" {
			comments = append(comments, c)
		}
	}
	return Segment{
		Kind:    SegmentHighlight,
		Text:    string(runes[p:q]),
		Start:   p,
		End:     q,
		Style:   StyleFor(top.Kind),
		Tooltip: strings.Join(comments, "\n"),
		Marks:   covering,
	}
}

// boundaries returns the sorted distinct offsets at which the styling may change.
func boundaries(marks []indexedMark, n int) []int {
	seen := map[int]bool{0: true, n: true}
	points := []int{0}
	if n != 0 {
		points = append(points, n)
	}
	for _, m := range marks {
		for _, p := range []int{m.Start, m.End} {
			if !seen[p] {
				seen[p] = true
				points = append(points, p)
			}
		}
	}
	sort.Ints(points)
	return points
}

// coveringMarks returns the encounter-order indexes of span marks covering [p, q).
func coveringMarks(marks []indexedMark, p, q int) []int {
	var out []int
	for _, m := range marks {
		if m.IsInsertion() || m.Start == m.End {
			continue
		}
		if m.Start <= p && m.End >= q {
			out = append(out, m.order)
		}
	}
	sort.Ints(out)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MarksFor collects the marks of one message: committed annotations first, in
// load order, then pending selections.
func MarksFor(messageIndex int, annotations []domain.Annotation, pending []domain.PendingSelection) []Mark {
	var marks []Mark
	for _, a := range annotations {
		if a.Selection.MessageIndex != messageIndex {
			continue
		}
		marks = append(marks, MarkFromSelection(a.ID, a.Selection))
	}
	for i, p := range pending {
		if p.MessageIndex != messageIndex {
			continue
		}
		marks = append(marks, Mark{
			Start: p.StartOffset,
			End:   p.EndOffset,
			Kind:  MarkPending,
			Ref:   pendingRef(i),
		})
	}
	return marks
}

// MarkFromSelection converts a committed selection to a mark.
func MarkFromSelection(ref string, s domain.Selection) Mark {
	m := Mark{
		Start:   s.StartOffset,
		End:     s.EndOffset,
		Comment: s.Comment,
		Ref:     ref,
	}
	switch {
	case s.Type == domain.SelectionTypeCompliance:
		m.Kind = MarkCompliance
	case s.ViolationType == domain.ViolationTypeMissing:
		m.Kind = MarkViolationMissing
		m.Insert = s.ReplacementSuggestion
		m.End = m.Start
	default:
		m.Kind = MarkViolationText
	}
	return m
}

func pendingRef(i int) string {
	return "pending:" + strconv.Itoa(i)
}

// ComposeConversation builds one plan per message of conv.
func ComposeConversation(conv *domain.Conversation, annotations []domain.Annotation, pending []domain.PendingSelection) []Plan {
	plans := make([]Plan, len(conv.Conversation))
	for i, msg := range conv.Conversation {
		plans[i] = Compose(i, msg.Message, MarksFor(i, annotations, pending))
	}
	return plans
}
