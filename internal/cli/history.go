package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Auditware/radar/internal/storage"
)

func newHistoryCmd(g *globals) *cobra.Command {
	var (
		dbPath string
		limit  int
		scanID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List scans recorded with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, _, err := g.load(".")
				if err != nil {
					return usageError(err)
				}
				dbPath = cfg.History.Path
			}
			if dbPath == "" {
				return usageError(errors.New("no history database: pass --db or set history.path"))
			}
			db, err := storage.Open(dbPath)
			if err != nil {
				return usageError(err)
			}
			defer db.Close()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetBorder(false)
			table.SetCenterSeparator("")
			table.SetAutoWrapText(false)
			if scanID != "" {
				findings, err := db.ListFindings(cmd.Context(), scanID)
				if err != nil {
					return usageError(err)
				}
				table.SetHeader([]string{"Severity", "Rule", "Location", "Handler", "Message"})
				for _, f := range findings {
					table.Append([]string{string(f.Severity), f.RuleID, fmt.Sprintf("%s:%d", f.File, f.StartLine), f.Handler, f.Message})
				}
				table.Render()
				return nil
			}
			scans, err := db.ListScans(cmd.Context(), limit)
			if err != nil {
				return usageError(err)
			}
			table.SetHeader([]string{"ID", "Started", "Status", "Files", "Findings", "Errors", "Elapsed", "Root"})
			for _, s := range scans {
				table.Append([]string{
					s.ID,
					s.StartedAt.Local().Format(time.DateTime),
					string(s.Status),
					fmt.Sprint(s.Files),
					fmt.Sprint(s.Findings),
					fmt.Sprint(s.Errors),
					s.Elapsed.String(),
					s.Root,
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "History database (default: history.path from config)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent scans to list")
	cmd.Flags().StringVar(&scanID, "scan", "", "List the findings of one scan instead")
	return cmd
}
