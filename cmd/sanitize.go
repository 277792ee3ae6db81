package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/threatscope/internal/observability"
	"github.com/xkilldash9x/threatscope/internal/sanitize"
)

func newSanitizeCmd() *cobra.Command {
	var (
		maxLength int
		allowHTML bool
		escape    bool
	)

	cmd := &cobra.Command{
		Use:   "sanitize [text]",
		Short: "Strip dangerous markup from text (reads stdin when no text is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}

			var input string
			if len(args) == 1 {
				input = args[0]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				input = strings.TrimRight(string(raw), "\r\n")
			}

			s := sanitize.New(observability.GetLogger(), cfg.Policy().Sanitize.MaxLength)
			out := s.Sanitize(input, sanitize.Options{MaxLength: maxLength, AllowHTML: allowHTML})
			if escape {
				out = sanitize.EscapeHTML(out)
			}

			result := struct {
				Output string `json:"output" yaml:"output"`
			}{out}
			return render(cmd, result, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, out)
				return err
			})
		},
	}

	cmd.Flags().IntVar(&maxLength, "max-length", 0, "truncate output to this many characters (0 uses the configured default)")
	cmd.Flags().BoolVar(&allowHTML, "allow-html", false, "keep basic formatting tags and links")
	cmd.Flags().BoolVar(&escape, "escape", false, "HTML-escape the sanitized output")
	return cmd
}
