package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-authgate/recon-cli/apiclient"
	"github.com/go-authgate/recon-cli/devserver"
	"github.com/go-authgate/recon-cli/tui"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		accessTTL time.Duration
		rotate    bool
		users     []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local development API server",
		Long: `Run a local stand-in for the reconciliation API.

It implements the auth endpoints and a few read/write resources. Use a short
--access-ttl to watch the client refresh its session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := parseUsers(users)
			if err != nil {
				return err
			}
			srv := devserver.New(devserver.Config{
				Secret:        []byte(getEnv("DEV_SECRET", uuid.NewString())),
				AccessTTL:     accessTTL,
				RotateRefresh: rotate,
				Users:         accounts,
			})

			return withDisplayer("http://"+displayAddr(addr), func(d tui.Displayer) error {
				return serve(cmd.Context(), addr, accessLog(a.log, srv), d)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().DurationVar(&accessTTL, "access-ttl", 15*time.Minute, "Access token lifetime")
	cmd.Flags().BoolVar(&rotate, "rotate-refresh", false, "Issue a new refresh token on every refresh")
	cmd.Flags().StringSliceVar(&users, "user", nil, "Account as name:password (repeatable, default admin:admin)")
	return cmd
}

// serve runs h on addr until ctx is cancelled.
func serve(ctx context.Context, addr string, h http.Handler, d tui.Displayer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	d.Serving(ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func parseUsers(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	users := make(map[string]string, len(entries))
	for _, e := range entries {
		name, password, ok := strings.Cut(e, ":")
		if !ok || name == "" || password == "" {
			return nil, fmt.Errorf("invalid --user %q (expected name:password)", e)
		}
		users[name] = password
	}
	return users, nil
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// accessLog logs one line per request at info level.
func accessLog(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", r.Header.Get(apiclient.HeaderRequestID)),
		)
	})
}
