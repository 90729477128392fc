package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-authgate/recon-cli/apiclient"
	"github.com/go-authgate/recon-cli/tui"
)

// Timeout configuration for commands that are not bounded by the refresh timeout
const (
	authRequestTimeout = 10 * time.Second
	apiRequestTimeout  = 30 * time.Second
)

func newLoginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with username and password and store the credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username = getConfig(username, "RECON_USER", "")
			password = getConfig(password, "RECON_PASS", "")
			if username == "" || password == "" {
				return errors.New("username and password are required (--username/--password or RECON_USER/RECON_PASS)")
			}

			return withDisplayer(a.cfg.apiURL, func(d tui.Displayer) error {
				c, location, closeStore, err := a.newClient(d)
				if err != nil {
					return err
				}
				defer closeStore()

				ctx, cancel := contextWithTimeout(cmd, authRequestTimeout)
				defer cancel()

				if _, err := c.Login(ctx, username, password); err != nil {
					return err
				}
				d.LoginOK(username)
				d.TokenSaved(location)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (RECON_USER env)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (RECON_PASS env)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDisplayer(a.cfg.apiURL, func(d tui.Displayer) error {
				c, _, closeStore, err := a.newClient(d)
				if err != nil {
					return err
				}
				defer closeStore()

				ctx, cancel := contextWithTimeout(cmd, authRequestTimeout)
				defer cancel()

				err = c.Logout(ctx)
				d.LoggedOut()
				return err
			})
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "GET an API path and print the JSON response",
		Example: `  recon-cli get /api/v1/transactions
  recon-cli get "/api/v1/transactions?gateway=stripe"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := normalizePath(args[0])
			return withDisplayer(a.cfg.apiURL, func(d tui.Displayer) error {
				c, _, closeStore, err := a.newClient(d)
				if err != nil {
					return err
				}
				defer closeStore()

				ctx, cancel := contextWithTimeout(cmd, apiRequestTimeout)
				defer cancel()

				d.Requesting(http.MethodGet, path)
				body, status, err := fetch(ctx, c, path)
				if err != nil {
					return err
				}
				d.APICallOK(http.MethodGet, path, status)
				return writeBody(a.out, body, raw)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the response body without indentation")
	return cmd
}

func newBurstCmd(a *app) *cobra.Command {
	var count, limit int
	cmd := &cobra.Command{
		Use:   "burst PATH",
		Short: "Send many concurrent GET requests to exercise the token refresh path",
		Long: `Send N concurrent GET requests with the stored credentials.

When the access token has expired every request receives a 401 at about the
same time. Only one refresh call is made; the other requests wait for it and
are replayed with the new token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			path := normalizePath(args[0])

			return withDisplayer(a.cfg.apiURL, func(d tui.Displayer) error {
				c, _, closeStore, err := a.newClient(d)
				if err != nil {
					return err
				}
				defer closeStore()

				ctx, cancel := contextWithTimeout(cmd, apiRequestTimeout)
				defer cancel()

				ok, failed, firstErr := burst(ctx, c, d, path, count, limit)
				if failed > 0 {
					return fmt.Errorf("%d of %d requests failed: %w", failed, ok+failed, firstErr)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of requests")
	cmd.Flags().IntVar(&limit, "concurrency", 0, "Maximum requests in flight (0 sends all at once)")
	return cmd
}

// burst fans out count GETs and reports each outcome. Individual failures do
// not cancel the rest.
func burst(
	ctx context.Context,
	c *apiclient.Client,
	d tui.Displayer,
	path string,
	count, limit int,
) (ok, failed int, firstErr error) {
	var okN, failedN atomic.Int32
	var errOnce atomic.Pointer[error]

	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}

	start := time.Now()
	for range count {
		g.Go(func() error {
			d.Requesting(http.MethodGet, path)
			_, status, err := fetch(ctx, c, path)
			if err != nil {
				failedN.Add(1)
				errOnce.CompareAndSwap(nil, &err)
				d.APICallFailed(err)
				return nil
			}
			okN.Add(1)
			d.APICallOK(http.MethodGet, path, status)
			return nil
		})
	}
	_ = g.Wait()

	d.BurstDone(int(okN.Load()), int(failedN.Load()), time.Since(start))
	if p := errOnce.Load(); p != nil {
		firstErr = *p
	}
	return int(okN.Load()), int(failedN.Load()), firstErr
}

func newForgotPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password EMAIL",
		Short: "Request a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDisplayer(a.cfg.apiURL, func(d tui.Displayer) error {
				c, _, closeStore, err := a.newClient(d)
				if err != nil {
					return err
				}
				defer closeStore()

				ctx, cancel := contextWithTimeout(cmd, authRequestTimeout)
				defer cancel()

				if err := c.ForgotPassword(ctx, args[0]); err != nil {
					return err
				}
				d.MessageSent("If the account exists, a reset link has been sent to " + args[0])
				return nil
			})
		},
	}
}

func newResetPasswordCmd(a *app) *cobra.Command {
	var newPassword string
	cmd := &cobra.Command{
		Use:   "reset-password TOKEN",
		Short: "Set a new password using a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			newPassword = getConfig(newPassword, "RECON_NEW_PASS", "")
			if newPassword == "" {
				return errors.New("new password is required (--new-password or RECON_NEW_PASS)")
			}

			return withDisplayer(a.cfg.apiURL, func(d tui.Displayer) error {
				c, _, closeStore, err := a.newClient(d)
				if err != nil {
					return err
				}
				defer closeStore()

				ctx, cancel := contextWithTimeout(cmd, authRequestTimeout)
				defer cancel()

				if err := c.ResetPassword(ctx, args[0], newPassword); err != nil {
					return err
				}
				d.MessageSent("Password updated, sign in with the new password")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&newPassword, "new-password", "", "New password (RECON_NEW_PASS env)")
	return cmd
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), d)
}

// normalizePath accepts "api/v1/x" as well as "/api/v1/x".
func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// fetch issues GET path and returns the body and status code.
func fetch(ctx context.Context, c *apiclient.Client, path string) ([]byte, int, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// writeBody prints body to w, indented when it is JSON and raw is false.
func writeBody(w io.Writer, body []byte, raw bool) error {
	if !raw && json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if body[len(body)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
