package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/annotator/internal/compositor"
	"github.com/xiaot623/annotator/internal/domain"
)

func conv() *domain.Conversation {
	return &domain.Conversation{Conversation: []domain.Message{
		{Author: "a", Message: "Hello world, how are you?"},
		{Author: "b", Message: "  fine  "},
	}}
}

func TestCaptureCollapsedIsNoop(t *testing.T) {
	_, ok, err := Capture(conv(), Range{Collapsed: true})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCaptureAgainstUnrenderedMessage(t *testing.T) {
	c := conv()
	plan := compositor.Compose(0, c.Conversation[0].Message, nil)
	a, err := PointIn(plan, 0, 6)
	require.NoError(t, err)
	f, err := PointIn(plan, 0, 11)
	require.NoError(t, err)

	sel, ok, err := Capture(c, Range{Anchor: a, Focus: f, Text: "world"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PendingSelection{MessageIndex: 0, StartOffset: 6, EndOffset: 11, Text: "world"}, sel)
}

func TestCaptureAfterHighlightsWereInjected(t *testing.T) {
	c := conv()
	text := c.Conversation[0].Message
	// "Hello" highlighted and a missing-text marker after "world".
	plan := compositor.Compose(0, text, []compositor.Mark{
		{Start: 0, End: 5, Kind: compositor.MarkViolationText},
		{Start: 11, End: 11, Kind: compositor.MarkViolationMissing, Insert: " there"},
	})
	// Segments: "" | "Hello" | " world" | [" there"] | ", how are you?"
	require.Equal(t, compositor.SegmentPlain, plan.Segments[2].Kind)
	require.Equal(t, " world", plan.Segments[2].Text)
	require.Equal(t, compositor.SegmentInsertion, plan.Segments[3].Kind)

	// Select "how" inside the trailing plain segment: offsets are relative to
	// that segment, the way a browser reports them for a text node.
	trailing := len(plan.Segments) - 1
	a, _ := PointIn(plan, trailing, 2)
	f, _ := PointIn(plan, trailing, 5)
	sel, ok, err := Capture(c, Range{Anchor: f, Focus: a})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "how", sel.Text)
	assert.Equal(t, 13, sel.StartOffset)
	assert.Equal(t, 16, sel.EndOffset)

	// A selection ending inside the synthetic marker stops at its raw position.
	a, _ = PointIn(plan, 2, 1)
	f, _ = PointIn(plan, 3, 4)
	sel, ok, err = Capture(c, Range{Anchor: a, Focus: f})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", sel.Text)
	assert.Equal(t, 6, sel.StartOffset)
	assert.Equal(t, 11, sel.EndOffset)
}

func TestCaptureTrimsWhitespace(t *testing.T) {
	c := conv()
	plan := compositor.Compose(1, c.Conversation[1].Message, nil)
	a, _ := PointIn(plan, 0, 0)
	f, _ := PointIn(plan, 0, 8)
	sel, ok, err := Capture(c, Range{Anchor: a, Focus: f})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PendingSelection{MessageIndex: 1, StartOffset: 2, EndOffset: 6, Text: "fine"}, sel)

	a, _ = PointIn(plan, 0, 0)
	f, _ = PointIn(plan, 0, 2)
	_, ok, err = Capture(c, Range{Anchor: a, Focus: f})
	assert.NoError(t, err)
	assert.False(t, ok, "whitespace-only selection is a no-op")
}

func TestCaptureRejectsCrossMessageAndBadSegments(t *testing.T) {
	c := conv()
	_, _, err := Capture(c, Range{
		Anchor: Point{MessageIndex: 0, SegmentEnd: 5},
		Focus:  Point{MessageIndex: 1, SegmentEnd: 5},
	})
	assert.ErrorIs(t, err, ErrCrossMessage)

	_, _, err = Capture(c, Range{
		Anchor: Point{MessageIndex: 0, SegmentStart: 0, SegmentEnd: 400},
		Focus:  Point{MessageIndex: 0, SegmentStart: 0, SegmentEnd: 3, Offset: 2},
	})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, _, err = Capture(c, Range{Anchor: Point{MessageIndex: 5}, Focus: Point{MessageIndex: 5}})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestInsertionPoint(t *testing.T) {
	c := conv()
	sel, err := InsertionPoint(c, Point{MessageIndex: 0, SegmentStart: 0, SegmentEnd: 25, Offset: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.PendingSelection{MessageIndex: 0, StartOffset: 5, EndOffset: 5}, sel)
	assert.True(t, sel.IsInsertionPoint())
}

func TestFromOffsets(t *testing.T) {
	c := conv()
	sel, err := FromOffsets(c, 0, 5, 12)
	require.NoError(t, err)
	assert.Equal(t, "world,", sel.Text)
	assert.Equal(t, 6, sel.StartOffset)

	sel, err = FromOffsets(c, 0, 5, 5)
	require.NoError(t, err)
	assert.True(t, sel.IsInsertionPoint())

	_, err = FromOffsets(c, 0, 3, 99)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = FromOffsets(c, 1, 0, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
