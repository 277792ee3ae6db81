package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/threatscope/internal/observability"
	"github.com/xkilldash9x/threatscope/internal/scanclient"
)

func newHealthCmd() *cobra.Command {
	var diagnose bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the scan backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			client, err := scanclient.New(cfg.ScanClient(), scanclient.WithLogger(observability.GetLogger()))
			if err != nil {
				return err
			}

			if diagnose {
				d := client.Diagnose(cmd.Context())
				if err := render(cmd, d, func(w io.Writer) error {
					fmt.Fprintf(w, "Backend: %s\n", d.BaseURL)
					for _, p := range d.Probes {
						if p.OK {
							fmt.Fprintf(w, "  OK    %-24s %d\n", p.Endpoint, p.StatusCode)
						} else {
							fmt.Fprintf(w, "  FAIL  %-24s %s\n", p.Endpoint, p.Error)
						}
					}
					return nil
				}); err != nil {
					return err
				}
				if !d.Connected {
					return &exitError{code: 1, msg: "backend is not reachable"}
				}
				return nil
			}

			rep := client.Health(cmd.Context())
			if err := render(cmd, rep, func(w io.Writer) error {
				if rep.Healthy() {
					_, err := fmt.Fprintf(w, "Backend %s is %s (%s)\n", client.BaseURL(), rep.Status, rep.Latency.Round(time.Millisecond))
					return err
				}
				_, err := fmt.Fprintf(w, "Backend %s is %s: %s\n", client.BaseURL(), rep.Status, rep.Error)
				return err
			}); err != nil {
				return err
			}
			if !rep.Healthy() {
				return &exitError{code: 1, msg: "backend is unhealthy"}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&diagnose, "diagnose", false, "probe every backend endpoint")
	cmd.Flags().String("backend-url", "", "base URL of the scan backend")
	cmd.Flags().Bool("insecure", false, "accept the backend's self-signed certificate")
	return cmd
}
