package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/threatscope/internal/validation"
)

const validateConcurrency = 8

// domainVerdict is one line of `validate` output.
type domainVerdict struct {
	Input      string `json:"input" yaml:"input"`
	Normalized string `json:"normalized,omitempty" yaml:"normalized,omitempty"`
	Valid      bool   `json:"valid" yaml:"valid"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate [domains...]",
		Short: "Validate domain names against the format, blacklist and injection rules",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && file == "" {
				return fmt.Errorf("requires at least one domain or --file")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}

			inputs := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readLines(cmd, file)
				if err != nil {
					return err
				}
				inputs = append(inputs, fromFile...)
			}

			verdicts := validateAll(cmd, inputs, cfg.Policy().ShowErrors)

			invalid := 0
			for _, v := range verdicts {
				if !v.Valid {
					invalid++
				}
			}

			err = render(cmd, verdicts, func(w io.Writer) error {
				for _, v := range verdicts {
					if v.Valid {
						fmt.Fprintf(w, "VALID    %s\n", v.Normalized)
					} else {
						fmt.Fprintf(w, "INVALID  %q: %s\n", v.Input, v.Error)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if invalid > 0 {
				return &exitError{code: 2, msg: fmt.Sprintf("%d of %d domains failed validation", invalid, len(verdicts))}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read domains from a file, one per line (- for stdin)")
	cmd.Flags().Bool("show-errors", true, "report the specific reason a domain was rejected")
	return cmd
}

// validateAll checks inputs concurrently and returns verdicts in input order.
func validateAll(cmd *cobra.Command, inputs []string, showErrors bool) []domainVerdict {
	verdicts := make([]domainVerdict, len(inputs))

	g, _ := errgroup.WithContext(cmd.Context())
	g.SetLimit(validateConcurrency)
	for i, in := range inputs {
		g.Go(func() error {
			res := validation.ValidateDomain(in, showErrors)
			v := domainVerdict{Input: in, Valid: res.Valid, Error: res.Error}
			if res.Valid {
				v.Normalized = validation.NormalizeDomain(in)
			}
			verdicts[i] = v
			return nil
		})
	}
	_ = g.Wait()
	return verdicts
}

// readLines returns the non-blank, non-comment lines of path, or of stdin
// when path is "-".
func readLines(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open domain list: %w", err)
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read domain list: %w", err)
	}
	return lines, nil
}
