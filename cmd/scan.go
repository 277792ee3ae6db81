package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/api/schemas"
	"github.com/xkilldash9x/threatscope/internal/audit"
	"github.com/xkilldash9x/threatscope/internal/policy"
	"github.com/xkilldash9x/threatscope/internal/ratelimit"
	"github.com/xkilldash9x/threatscope/internal/scanclient"
)

// newScanCmd creates the `scan` command. The domain is validated and rate
// limited locally before the backend is contacted.
func newScanCmd(provider storeProvider) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan <domain>",
		Short: "Scan a domain through the ThreatScope backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := openSession(cmd, provider)
			if err != nil {
				return err
			}
			defer cleanup()

			domain, err := s.policy.Authorize(ctx, ratelimit.ActionScan, s.actor, args[0])
			if err != nil {
				return describePolicyError(err)
			}

			client, err := scanclient.New(s.cfg.ScanClient(),
				scanclient.WithTokenSource(s.policy),
				scanclient.WithLogger(s.log))
			if err != nil {
				return err
			}

			s.log.Info("Starting scan", zap.String("domain", domain), zap.String("backend", client.BaseURL()))
			result, err := client.Scan(ctx, domain)
			if err != nil {
				s.recordScan(cmd, domain, fmt.Sprintf("Scan of %s failed: %v", domain, err), audit.SeverityMedium)
				return err
			}
			s.recordScan(cmd, domain, fmt.Sprintf("Scanned %s (reputation %d)", domain, result.Reputation), audit.SeverityInfo)

			return render(cmd, result, func(w io.Writer) error {
				return printScanResult(w, result)
			})
		},
	}

	scanCmd.Flags().String("backend-url", "", "base URL of the scan backend")
	scanCmd.Flags().Bool("insecure", false, "accept the backend's self-signed certificate")
	return scanCmd
}

func (s *session) recordScan(cmd *cobra.Command, domain, details string, sev audit.Severity) {
	_, err := s.policy.Audit().Record(cmd.Context(), audit.Event{
		Action:   "scan_requested",
		Actor:    s.actor,
		Details:  details,
		Severity: sev,
	})
	if err != nil {
		s.log.Warn("Failed to record scan in audit log.", zap.String("domain", domain), zap.Error(err))
	}
}

// describePolicyError turns a policy denial into a user-facing error.
func describePolicyError(err error) error {
	var limited *policy.RateLimitError
	if errors.As(err, &limited) {
		return &exitError{code: 3, msg: limited.Error()}
	}
	var rejected *policy.RejectedInputError
	if errors.As(err, &rejected) {
		return &exitError{code: 2, msg: rejected.Result.Error}
	}
	return err
}

func printScanResult(w io.Writer, r *schemas.ScanResult) error {
	fmt.Fprintf(w, "Domain:      %s\n", r.Domain)
	if r.RegistrableDomain != "" && r.RegistrableDomain != r.Domain {
		fmt.Fprintf(w, "Registrable: %s\n", r.RegistrableDomain)
	}
	fmt.Fprintf(w, "Scan ID:     %s\n", r.ScanID)
	fmt.Fprintf(w, "Scanned at:  %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Reputation:  %d\n", r.Reputation)

	st := r.LastAnalysisStats
	fmt.Fprintf(w, "Engines:     %d harmless, %d malicious, %d suspicious, %d undetected (%d total)\n",
		st.Harmless, st.Malicious, st.Suspicious, st.Undetected, st.Total())
	if r.Flagged() {
		fmt.Fprintln(w, "Verdict:     FLAGGED")
	} else {
		fmt.Fprintln(w, "Verdict:     clean")
	}

	if len(r.Categories) > 0 {
		fmt.Fprintln(w, "Categories:")
		for _, vendor := range slices.Sorted(maps.Keys(r.Categories)) {
			fmt.Fprintf(w, "  %-14s %s\n", vendor, r.Categories[vendor])
		}
	}
	if otx := r.AlienVaultOTX; otx != nil {
		fmt.Fprintf(w, "OTX:         %d pulses, reputation %s (%s)\n", otx.PulseCount, otx.Reputation, otx.DataSource)
	}
	if r.Whois != "" {
		fmt.Fprintf(w, "Whois:       %s\n", r.Whois)
	}
	if !r.Saved {
		fmt.Fprintln(w, "Note: the backend did not persist this result.")
	}
	return nil
}
