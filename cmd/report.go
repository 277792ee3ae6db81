package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/threatscope/internal/report"
)

// newReportCmd creates the `report` command group.
func newReportCmd(provider storeProvider) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate and browse security reports",
	}
	reportCmd.AddCommand(newReportGenerateCmd(provider), newReportListCmd(provider))
	return reportCmd
}

func newReportGenerateCmd(provider storeProvider) *cobra.Command {
	var req report.Request

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new security report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSession(cmd, provider)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := report.NewService(s.policy, report.WithLogger(s.log))
			r, err := svc.Generate(cmd.Context(), s.actor, req)
			if err != nil {
				return describePolicyError(err)
			}
			return render(cmd, r, func(w io.Writer) error {
				printReport(w, r)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "report title (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "report description")
	cmd.Flags().StringVar(&req.Severity, "severity", report.SeverityMedium, "severity: low, medium or high")
	cmd.Flags().StringVar(&req.DateRange.Start, "start", "", "start of the reporting window (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&req.DateRange.End, "end", "", "end of the reporting window (YYYY-MM-DD or RFC 3339)")
	return cmd
}

func newReportListCmd(provider storeProvider) *cobra.Command {
	var (
		f     report.Filter
		stats bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSession(cmd, provider)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := report.NewService(s.policy, report.WithLogger(s.log))
			all, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			reports, err := svc.Filter(all, f)
			if err != nil {
				return describePolicyError(err)
			}

			view := struct {
				Reports []report.Report `json:"reports" yaml:"reports"`
				Stats   *report.Stats   `json:"stats,omitempty" yaml:"stats,omitempty"`
			}{Reports: reports}
			if stats {
				st := report.Summarize(reports)
				view.Stats = &st
			}

			return render(cmd, view, func(w io.Writer) error {
				if len(reports) == 0 {
					fmt.Fprintln(w, "No reports match.")
				}
				for _, r := range reports {
					fmt.Fprintf(w, "%-8s %-6s %-9s %s  %s\n",
						r.ID, r.Severity, r.Status, r.CreatedAt.Format("2006-01-02"), r.Title)
				}
				if st := view.Stats; st != nil {
					fmt.Fprintf(w, "\nTotal %d: %d high, %d medium, %d low; %d completed, %d pending\n",
						st.Total, st.High, st.Medium, st.Low, st.Completed, st.Pending)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&f.Search, "search", "", "match title, description or findings")
	cmd.Flags().StringVar(&f.Severity, "severity", report.FilterAll, "filter by severity")
	cmd.Flags().StringVar(&f.Status, "status", report.FilterAll, "filter by status")
	cmd.Flags().StringVar(&f.DateRange.Start, "start", "", "only reports created on or after this date")
	cmd.Flags().StringVar(&f.DateRange.End, "end", "", "only reports created on or before this date")
	cmd.Flags().BoolVar(&stats, "stats", false, "print severity and status counts")
	return cmd
}

func printReport(w io.Writer, r report.Report) {
	fmt.Fprintf(w, "Report %s: %s\n", r.ID, r.Title)
	fmt.Fprintf(w, "Severity: %s  Status: %s  Created: %s\n", r.Severity, r.Status, r.CreatedAt.Format(time.RFC3339))
	if r.Description != "" {
		fmt.Fprintf(w, "\n%s\n", r.Description)
	}
	section := func(name string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s:\n", name)
		for _, it := range items {
			fmt.Fprintf(w, "  - %s\n", it)
		}
	}
	section("Findings", r.Findings)
	section("Recommendations", r.Recommendations)
}
