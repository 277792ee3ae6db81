// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/config"
	"github.com/xkilldash9x/threatscope/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// flagBindings maps command flags onto config keys. A flag only overrides the
// config file and environment when it was set explicitly.
var flagBindings = map[string]string{
	"store":          "store.backend",
	"store-path":     "store.path",
	"actor":          "session.actor_id",
	"log-level":      "logger.level",
	"show-errors":    "policy.show_errors",
	"backend-url":    "scan_client.base_url",
	"insecure":       "scan_client.insecure_skip_verify",
	"addr":           "server.addr",
	"tls":            "server.tls",
	"trust-proxy":    "server.trust_proxy_headers",
	"allowed-origin": "server.allowed_origins",
}

// newRootCmd builds the command tree. provider opens the state store for
// commands that need one.
func newRootCmd(provider storeProvider) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "threatscope",
		Short:         "ThreatScope validates, rate-limits and scans domains for threat intelligence.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting threatscope", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey, config.Interface(cfg)))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.threatscope/config.yaml)")
	rootCmd.PersistentFlags().String("store", "", "state store backend: memory, sqlite or postgres")
	rootCmd.PersistentFlags().String("store-path", "", "sqlite database path")
	rootCmd.PersistentFlags().String("actor", "", "actor identity used for rate limiting and auditing")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("output", "o", formatText, "output format: text, json or yaml")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newValidateCmd(),
		newSanitizeCmd(),
		newCSRFCmd(provider),
		newLimitCmd(provider),
		newScanCmd(provider),
		newHealthCmd(),
		newReportCmd(provider),
		newAuditCmd(provider),
		newServeCmd(provider),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the CLI with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(NewStoreProvider()).ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

// initializeConfig reads the config file and environment into v and applies
// explicitly set flags on top.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.threatscope")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("THREATSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	for name, key := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration loaded by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
