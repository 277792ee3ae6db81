package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newAuditCmd(provider storeProvider) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the security audit log",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSession(cmd, provider)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := s.policy.Audit().List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return render(cmd, entries, func(w io.Writer) error {
				if len(entries) == 0 {
					fmt.Fprintln(w, "Audit log is empty.")
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %-6s %-20s %-16s %s\n",
						e.Timestamp.Format(time.RFC3339), e.Severity, e.Action, e.Actor, e.Details)
				}
				return nil
			})
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to show (0 for the default of 50)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every audit entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSession(cmd, provider)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := s.policy.Audit().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audit log cleared.")
			return nil
		},
	}

	auditCmd.AddCommand(listCmd, clearCmd)
	return auditCmd
}
