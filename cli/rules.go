package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xiaot623/annotator/internal/adapter/backend"
	"github.com/xiaot623/annotator/internal/domain"
)

func rulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the rule catalog",
	}
	cmd.AddCommand(rulesListCmd(a), rulesCreateCmd(a), rulesUpdateCmd(a), rulesDeleteCmd(a))
	return cmd
}

func rulesListCmd(a *app) *cobra.Command {
	var domainName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules, optionally for one domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := a.source().ListRules(cmd.Context(), domainName)
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), rules)
			return nil
		},
	}
	cmd.Flags().StringVar(&domainName, "domain", "", "only rules of this domain")
	return cmd
}

func rulesCreateCmd(a *app) *cobra.Command {
	var rule domain.Rule
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			created, err := c.CreateRule(cmd.Context(), rule)
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), []domain.Rule{created})
			return nil
		},
	}
	cmd.Flags().StringVar(&rule.Domain, "domain", "", "rule domain")
	cmd.Flags().StringVar(&rule.Name, "name", "", "rule name")
	cmd.Flags().StringVar(&rule.Description, "description", "", "rule description")
	cmd.Flags().StringVar(&rule.Category, "category", "", "rule category")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func rulesUpdateCmd(a *app) *cobra.Command {
	var domainName, name, description, category string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update the given fields of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.RulePatch
			set := func(flag string, value *string, field **string) {
				if cmd.Flags().Changed(flag) {
					*field = value
				}
			}
			set("domain", &domainName, &patch.Domain)
			set("name", &name, &patch.Name)
			set("description", &description, &patch.Description)
			set("category", &category, &patch.Category)
			if patch == (domain.RulePatch{}) {
				return fmt.Errorf("nothing to update")
			}

			c, err := a.client()
			if err != nil {
				return err
			}
			updated, err := c.UpdateRule(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), []domain.Rule{updated})
			return nil
		},
	}
	cmd.Flags().StringVar(&domainName, "domain", "", "new domain")
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&category, "category", "", "new category")
	return cmd
}

func rulesDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule after confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			pending, err := c.RequestRuleDelete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return confirmAndDelete(cmd, c, pending, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// confirmAndDelete asks before running a requested delete.
func confirmAndDelete(cmd *cobra.Command, c *backend.Client, pending *backend.PendingDelete, yes bool) error {
	out := cmd.OutOrStdout()
	if !yes {
		fmt.Fprintf(out, "%s? [y/N] ", pending.Describe())
		if !confirmed(cmd.InOrStdin()) {
			fmt.Fprintln(out, "aborted")
			return nil
		}
	}
	if err := c.ConfirmDelete(cmd.Context(), pending); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s %s\n", pending.Target, pending.ID)
	return nil
}

func confirmed(in io.Reader) bool {
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func printRules(w io.Writer, rules []domain.Rule) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOMAIN\tCATEGORY\tNAME")
	for _, r := range rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Domain, r.Category, r.Name)
	}
	_ = tw.Flush()
}
