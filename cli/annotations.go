package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/sidebar"
	"github.com/xiaot623/annotator/internal/workbench"
)

func annotationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotations",
		Short: "Inspect committed annotations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list [conversation-id]",
		Short: "List annotations, for one conversation or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var convID string
			if len(args) == 1 {
				convID = args[0]
			}
			anns, err := a.source().ListAnnotations(cmd.Context(), convID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCONVERSATION\tSPAN\tRULE\tTYPE\tANNOTATOR\tCREATED\tCOMMENT")
			for _, an := range anns {
				s := an.Selection
				kind := string(s.Type)
				if s.ViolationType != "" {
					kind += "/" + string(s.ViolationType)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d:%d:%d\t%s\t%s\t%s\t%s\t%s\n",
					an.ID, an.ConversationID, s.MessageIndex, s.StartOffset, s.EndOffset,
					s.RuleID, kind, an.Annotator, an.Timestamp.Format(time.RFC3339), s.Comment)
			}
			return tw.Flush()
		},
	})
	return cmd
}

// span is a parsed --span value.
type span struct {
	message, start, end int
}

// parseSpan parses "message:start:end", or "message:offset" for an
// insertion point.
func parseSpan(s string) (span, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return span{}, fmt.Errorf("invalid span %q: want message:start:end or message:offset", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return span{}, fmt.Errorf("invalid span %q: %q is not a non-negative integer", s, p)
		}
		nums[i] = n
	}
	if len(nums) == 2 {
		return span{message: nums[0], start: nums[1], end: nums[1]}, nil
	}
	return span{message: nums[0], start: nums[1], end: nums[2]}, nil
}

func annotateCmd(a *app) *cobra.Command {
	var (
		spans []string
		form  = sidebar.DefaultForm()
		kind  string
		vkind string
	)
	cmd := &cobra.Command{
		Use:   "annotate <conversation-id>",
		Short: "Annotate one or more spans of a conversation with a shared judgment",
		Long: "Each --span is message:start:end in characters, or message:offset for a\n" +
			"missing-text insertion point. One annotation is created per span.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(spans) == 0 {
				return errors.New("at least one --span is required")
			}
			parsed := make([]span, len(spans))
			for i, s := range spans {
				sp, err := parseSpan(s)
				if err != nil {
					return err
				}
				parsed[i] = sp
			}

			view, err := workbench.NewManager(a.source(), a.annotator()).Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if st := view.State(); st.LoadError != "" {
				return errors.New(st.LoadError)
			}
			for _, sp := range parsed {
				if _, err := view.AddOffsets(sp.message, sp.start, sp.end); err != nil {
					return fmt.Errorf("span %d:%d:%d: %w", sp.message, sp.start, sp.end, err)
				}
			}

			form.Type = domain.SelectionType(kind)
			form.ViolationType = domain.ViolationType(vkind)
			if form.Type == domain.SelectionTypeCompliance {
				form.ViolationType = ""
			}
			view.SetForm(form)

			created, err := view.Submit(cmd.Context())
			var verr *sidebar.ValidationError
			if errors.As(err, &verr) {
				for _, p := range verr.Problems {
					fmt.Fprintln(cmd.ErrOrStderr(), "  -", p)
				}
			}
			out := cmd.OutOrStdout()
			for _, an := range created {
				fmt.Fprintf(out, "created %s on message %d [%d,%d)\n",
					an.ID, an.Selection.MessageIndex, an.Selection.StartOffset, an.Selection.EndOffset)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&spans, "span", nil, "span to annotate, message:start:end or message:offset (repeatable)")
	f.StringVar(&form.RuleID, "rule", "", "rule id")
	f.StringVar(&kind, "type", string(domain.SelectionTypeViolation), "violation or compliance")
	f.StringVar(&vkind, "violation-type", string(domain.ViolationTypeText), "text or missing")
	f.StringVar(&form.Comment, "comment", "", "comment")
	f.StringVar(&form.ReplacementSuggestion, "suggestion", "", "replacement suggestion")
	return cmd
}
