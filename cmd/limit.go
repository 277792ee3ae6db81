package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/threatscope/internal/ratelimit"
)

func newLimitCmd(provider storeProvider) *cobra.Command {
	var action string

	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Inspect or reset rate-limit windows",
	}
	cmd.PersistentFlags().StringVar(&action, "action", ratelimit.ActionScan, "limited action: scan or report")

	checkAction := func() error {
		switch action {
		case ratelimit.ActionScan, ratelimit.ActionReport:
			return nil
		default:
			return fmt.Errorf("unknown action %q (want scan or report)", action)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show recent activity and time until the limit clears",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := checkAction(); err != nil {
					return err
				}
				s, cleanup, err := openSession(cmd, provider)
				if err != nil {
					return err
				}
				defer cleanup()

				st, err := s.policy.Limiter(action, s.actor).Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to read rate limit state: %w", err)
				}
				return render(cmd, st, func(w io.Writer) error {
					fmt.Fprintf(w, "Action:    %s\n", st.Action)
					fmt.Fprintf(w, "Actor:     %s\n", st.Actor)
					fmt.Fprintf(w, "Recent:    %d/%d in %s\n", st.Count, st.Limit, st.Window)
					fmt.Fprintf(w, "Level:     %s\n", st.Level)
					if st.SecondsRemaining > 0 {
						fmt.Fprintf(w, "Limited:   %d seconds remaining\n", st.SecondsRemaining)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Clear the window for the current actor",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := checkAction(); err != nil {
					return err
				}
				s, cleanup, err := openSession(cmd, provider)
				if err != nil {
					return err
				}
				defer cleanup()

				if err := s.policy.Limiter(action, s.actor).Reset(cmd.Context()); err != nil {
					return fmt.Errorf("failed to reset rate limit: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rate limit for %s reset.\n", action)
				return nil
			},
		},
	)
	return cmd
}
