package cli

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/rules"
)

func newRulesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Inspect the rule catalog"}

	catalog := func() (*rules.Catalog, error) {
		cfg, _, err := g.load(".")
		if err != nil {
			return nil, err
		}
		return rules.NewCatalog(cfg.RuleOptions())
	}

	var dialect string
	list := &cobra.Command{
		Use:   "list",
		Short: "List rules with their effective severity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var only model.Dialect
			if dialect != "" {
				d, ok := model.ParseDialect(dialect)
				if !ok {
					return usageError(fmt.Errorf("unknown dialect %q", dialect))
				}
				only = d
			}
			c, err := catalog()
			if err != nil {
				return usageError(err)
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Severity", "Category", "Dialects", "Enabled", "Title"})
			table.SetBorder(false)
			table.SetCenterSeparator("")
			table.SetAutoWrapText(false)
			for _, m := range c.Metas() {
				if only != "" && !rules.Applies(m, only) {
					continue
				}
				dialects := strings.Join(m.Dialects, ",")
				if dialects == "" {
					dialects = "all"
				}
				enabled := "yes"
				if m.Category != rules.CategoryDiagnostic && !c.Enabled(m.ID) {
					enabled = "no"
				}
				table.Append([]string{m.ID, string(m.Severity), m.Category, dialects, enabled, m.Title})
			}
			table.Render()
			return nil
		},
	}
	list.Flags().StringVar(&dialect, "dialect", "", "Only rules that apply to this dialect")

	show := &cobra.Command{
		Use:   "show RULE-ID",
		Short: "Describe one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog()
			if err != nil {
				return usageError(err)
			}
			m, ok := c.Meta(strings.ToUpper(args[0]))
			if !ok {
				return usageError(fmt.Errorf("unknown rule %q", args[0]))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", m.ID, m.Title)
			fmt.Fprintf(out, "severity:    %s\n", m.Severity)
			fmt.Fprintf(out, "category:    %s\n", m.Category)
			if len(m.Dialects) > 0 {
				fmt.Fprintf(out, "dialects:    %s\n", strings.Join(m.Dialects, ", "))
			}
			if m.Remediation != "" {
				fmt.Fprintf(out, "remediation: %s\n", m.Remediation)
			}
			for _, ref := range m.References {
				fmt.Fprintf(out, "see:         %s\n", ref)
			}
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
