package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Socheema/Framez-sub000/internal/auth"
	"github.com/Socheema/Framez-sub000/internal/session"
)

var (
	loginUser   string
	loginHandle string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in as a user and keep the session locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginUser == "" {
			return errors.New("--user is required")
		}
		authn := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		token, expires, err := authn.Issue(loginUser, loginHandle)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		sessions, err := session.Open(cfg.Session.Path)
		if err != nil {
			return err
		}
		defer sessions.Close()

		if err := sessions.Save(session.Session{UserID: loginUser, Handle: loginHandle, Token: token, ExpiresAt: expires}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s until %s\n", loginUser, expires.Format(time.RFC1123))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the local session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := session.Open(cfg.Session.Path)
		if err != nil {
			return err
		}
		defer sessions.Close()

		if err := sessions.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession()
		if err != nil {
			return err
		}
		name := sess.UserID
		if sess.Handle != "" {
			name = fmt.Sprintf("%s (%s)", sess.Handle, sess.UserID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s, session valid until %s\n", name, sess.ExpiresAt.Format(time.RFC1123))
		return nil
	},
}

// currentSession loads the saved session and checks that its token is
// still accepted.
func currentSession() (session.Session, error) {
	sessions, err := session.Open(cfg.Session.Path)
	if err != nil {
		return session.Session{}, err
	}
	defer sessions.Close()

	sess, err := sessions.Current()
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return sess, errors.New("not logged in, run framez login --user <id>")
		}
		return sess, err
	}

	authn := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if _, err := authn.Validate(sess.Token); err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return sess, errors.New("session expired, log in again")
		}
		return sess, fmt.Errorf("saved session rejected: %w", err)
	}
	return sess, nil
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)

	loginCmd.Flags().StringVar(&loginUser, "user", "", "user id to sign in as (required)")
	loginCmd.Flags().StringVar(&loginHandle, "handle", "", "display handle")
}
