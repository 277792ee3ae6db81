package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/security"
	"github.com/xkilldash9x/threatscope/internal/server"
)

// newServeCmd creates the `serve` command, which runs the scan backend over
// the same state store as the CLI.
func newServeCmd(provider storeProvider) *cobra.Command {
	var certDir string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan backend HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSession(cmd, provider)
			if err != nil {
				return err
			}
			defer cleanup()

			srvCfg := s.cfg.Server()
			opts := []server.Option{
				server.WithLogger(s.log),
				server.WithVersion(Version),
				server.WithStoreLabel(s.cfg.Store().Backend),
			}

			if srvCfg.TLS {
				hosts := security.HostsForAddr(srvCfg.Addr)
				bundle, err := security.NewSelfSigned(hosts, security.DefaultValidity)
				if err != nil {
					return fmt.Errorf("failed to generate TLS certificate: %w", err)
				}
				if certDir != "" {
					certPath := filepath.Join(certDir, "cert.pem")
					keyPath := filepath.Join(certDir, "key.pem")
					if err := bundle.WritePEM(certPath, keyPath); err != nil {
						return err
					}
					s.log.Info("Wrote self-signed certificate", zap.String("cert", certPath), zap.Strings("hosts", hosts))
				}
				opts = append(opts, server.WithTLS(bundle.ServerTLSConfig()))
			}

			return server.New(srvCfg, s.policy, s.store, opts...).Run(cmd.Context())
		},
	}

	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8000)")
	serveCmd.Flags().Bool("tls", false, "serve HTTPS with a generated self-signed certificate")
	serveCmd.Flags().Bool("trust-proxy", false, "take the client address from X-Forwarded-For / X-Real-IP")
	serveCmd.Flags().StringSlice("allowed-origin", nil, "CORS origin allowed to call the API (repeatable)")
	serveCmd.Flags().StringVar(&certDir, "cert-dir", "", "write the generated certificate and key to this directory")
	return serveCmd
}
