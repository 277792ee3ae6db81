package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/threatscope/internal/csrf"
)

type tokenView struct {
	Token     string    `json:"token" yaml:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Degraded  bool      `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

func newCSRFCmd(provider storeProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csrf",
		Short: "Manage the anti-forgery token",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "token",
			Short: "Print the current token, generating one if missing or expired",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, cleanup, err := openSession(cmd, provider)
				if err != nil {
					return err
				}
				defer cleanup()

				tok, err := s.policy.CSRFToken(cmd.Context())
				return renderToken(cmd, s, tok, err)
			},
		},
		&cobra.Command{
			Use:   "rotate",
			Short: "Replace the token with a fresh one",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, cleanup, err := openSession(cmd, provider)
				if err != nil {
					return err
				}
				defer cleanup()

				tok, err := s.policy.RotateCSRFToken(cmd.Context(), s.actor)
				return renderToken(cmd, s, tok, err)
			},
		},
		&cobra.Command{
			Use:   "verify <token>",
			Short: "Check a token against the stored one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, cleanup, err := openSession(cmd, provider)
				if err != nil {
					return err
				}
				defer cleanup()

				valid := s.policy.ValidateCSRFToken(cmd.Context(), args[0])
				result := struct {
					Valid bool `json:"valid" yaml:"valid"`
				}{valid}
				err = render(cmd, result, func(w io.Writer) error {
					if valid {
						_, err := fmt.Fprintln(w, "Token is valid.")
						return err
					}
					_, err := fmt.Fprintln(w, "Token is invalid or expired.")
					return err
				})
				if err != nil {
					return err
				}
				if !valid {
					return &exitError{code: 2, msg: "CSRF token validation failed"}
				}
				return nil
			},
		},
	)
	return cmd
}

// renderToken prints tok. A degraded token is still printed, with a warning.
func renderToken(cmd *cobra.Command, s *session, tok string, err error) error {
	degraded := errors.Is(err, csrf.ErrDegraded)
	if err != nil && !degraded {
		return fmt.Errorf("failed to obtain CSRF token: %w", err)
	}

	view := tokenView{Token: tok, Degraded: degraded}
	if !degraded {
		view.ExpiresAt, _ = s.policy.CSRFExpiresAt(cmd.Context())
	}
	return render(cmd, view, func(w io.Writer) error {
		fmt.Fprintln(w, view.Token)
		if degraded {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: token store unavailable; this token is not persisted.")
		} else if !view.ExpiresAt.IsZero() {
			fmt.Fprintf(w, "Expires: %s\n", view.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	})
}
