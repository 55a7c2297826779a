package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func conversationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "Browse and delete conversations",
	}
	cmd.AddCommand(conversationsListCmd(a), conversationsShowCmd(a), conversationsDeleteCmd(a))
	return cmd
}

func conversationsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			convs, err := a.source().ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDOMAIN\tMESSAGES\tTITLE")
			for _, c := range convs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.Domain, len(c.Conversation), c.Title)
			}
			return tw.Flush()
		},
	}
}

func conversationsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation with message indices and lengths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.source().GetConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n%s (domain %s)\n\n", conv.Title, conv.ID, conv.Domain)
			for i, m := range conv.Conversation {
				fmt.Fprintf(out, "#%d %s %s len=%d\n%s\n\n", i, m.Author, m.Timestamp.Format(time.RFC3339), m.Len(), m.Message)
			}
			return nil
		},
	}
}

func conversationsDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and its annotations after confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			pending, err := c.RequestConversationDelete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return confirmAndDelete(cmd, c, pending, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
