package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/annotator/internal/compositor"
	"github.com/xiaot623/annotator/internal/domain"
)

// ANSI escape sequences per style.
var ansiStyles = map[compositor.Style]string{
	compositor.StyleProvisional: "\x1b[4;36m",
	compositor.StyleAlert:       "\x1b[41;97m",
	compositor.StyleAffirmative: "\x1b[42;30m",
	compositor.StyleInsertion:   "\x1b[1;33m",
}

const ansiReset = "\x1b[0m"

// Plain-text brackets per style, used when color is off.
var plainStyles = map[compositor.Style][2]string{
	compositor.StyleProvisional: {"{", "}"},
	compositor.StyleAlert:       {"[!", "]"},
	compositor.StyleAffirmative: {"[+", "]"},
	compositor.StyleInsertion:   {"<+", ">"},
}

// caret stands in for an insertion marker that has no content yet.
const caret = "^"

// renderPlan writes one message plan as a single styled line.
func renderPlan(w io.Writer, plan compositor.Plan, color bool) {
	var b strings.Builder
	for _, s := range plan.Segments {
		text := s.Text
		if s.Kind == compositor.SegmentInsertion && text == "" {
			text = caret
		}
		if s.Kind == compositor.SegmentPlain || s.Style == compositor.StyleNone {
			b.WriteString(text)
			continue
		}
		if color {
			b.WriteString(ansiStyles[s.Style])
			b.WriteString(text)
			b.WriteString(ansiReset)
			continue
		}
		br := plainStyles[s.Style]
		b.WriteString(br[0])
		b.WriteString(text)
		b.WriteString(br[1])
	}
	fmt.Fprintln(w, b.String())
}

// renderNotes lists the tooltip of every styled segment under the message.
func renderNotes(w io.Writer, plan compositor.Plan) {
	for _, s := range plan.Segments {
		if s.Kind == compositor.SegmentPlain || s.Tooltip == "" {
			continue
		}
		overlap := ""
		if s.Overlapping() {
			overlap = fmt.Sprintf(" (%d marks)", len(s.Marks))
		}
		fmt.Fprintf(w, "    %s [%d,%d)%s: %s\n", s.Style, s.Start, s.End, overlap,
			strings.ReplaceAll(s.Tooltip, "\n", " | "))
	}
}

func renderConversation(w io.Writer, conv *domain.Conversation, plans []compositor.Plan, color bool) {
	fmt.Fprintf(w, "%s (%s)\n\n", conv.Title, conv.ID)
	for _, p := range plans {
		m := conv.Conversation[p.MessageIndex]
		fmt.Fprintf(w, "#%d %s %s\n", p.MessageIndex, m.Author, m.Timestamp.Format(time.RFC3339))
		renderPlan(w, p, color)
		renderNotes(w, p)
		fmt.Fprintln(w)
	}
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func renderCmd(a *app) *cobra.Command {
	var (
		pending []string
		color   string
	)
	cmd := &cobra.Command{
		Use:   "render <conversation-id>",
		Short: "Print a conversation with its annotations highlighted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src := a.source()
			conv, err := src.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			anns, err := src.ListAnnotations(ctx, conv.ID)
			if err != nil {
				return err
			}

			var sels []domain.PendingSelection
			for _, p := range pending {
				sp, err := parseSpan(p)
				if err != nil {
					return err
				}
				sels = append(sels, domain.PendingSelection{MessageIndex: sp.message, StartOffset: sp.start, EndOffset: sp.end})
			}

			out := cmd.OutOrStdout()
			var useColor bool
			switch color {
			case "always":
				useColor = true
			case "never":
			case "auto":
				useColor = isTerminal(out)
			default:
				return fmt.Errorf("invalid --color %q: want auto, always or never", color)
			}
			renderConversation(out, conv, compositor.ComposeConversation(conv, anns, sels), useColor)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pending, "pending", nil, "preview a pending selection, message:start:end (repeatable)")
	cmd.Flags().StringVar(&color, "color", "auto", "auto, always or never")
	return cmd
}
