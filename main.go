package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-authgate/recon-cli/apiclient"
	"github.com/go-authgate/recon-cli/credstore"
	"github.com/go-authgate/recon-cli/tui"
)

const defaultClientID = "default"

// flagValues holds raw flag input before env and default resolution.
type flagValues struct {
	apiURL         string
	clientID       string
	tokenStore     string
	tokenFile      string
	boltPath       string
	redisAddr      string
	redisTTL       string
	refreshTimeout string
	logLevel       string
}

// config is the resolved configuration shared by all commands.
type config struct {
	apiURL         string
	clientID       string
	tokenStore     string
	tokenFile      string
	boltPath       string
	redisAddr      string
	redisTTL       time.Duration
	refreshTimeout time.Duration
	logLevel       string
}

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadConfig resolves every setting and validates the ones that would
// otherwise fail late.
func loadConfig(f flagValues) (config, error) {
	cfg := config{
		apiURL:     strings.TrimRight(getConfig(f.apiURL, "API_URL", "http://localhost:8080"), "/"),
		clientID:   getConfig(f.clientID, "CLIENT_ID", defaultClientID),
		tokenStore: strings.ToLower(getConfig(f.tokenStore, "TOKEN_STORE", "file")),
		tokenFile:  getConfig(f.tokenFile, "TOKEN_FILE", ".recon-tokens.json"),
		boltPath:   getConfig(f.boltPath, "BOLT_PATH", ".recon-tokens.db"),
		redisAddr:  getConfig(f.redisAddr, "REDIS_ADDR", "localhost:6379"),
		logLevel:   getConfig(f.logLevel, "LOG_LEVEL", "warn"),
	}

	if err := apiclient.ValidateBaseURL(cfg.apiURL); err != nil {
		return config{}, fmt.Errorf("invalid API_URL: %w", err)
	}

	var err error
	if cfg.refreshTimeout, err = parseDuration("REFRESH_TIMEOUT", getConfig(f.refreshTimeout, "REFRESH_TIMEOUT", "15s")); err != nil {
		return config{}, err
	}
	if cfg.redisTTL, err = parseDuration("REDIS_TTL", getConfig(f.redisTTL, "REDIS_TTL", "0s")); err != nil {
		return config{}, err
	}

	switch cfg.tokenStore {
	case "file", "bolt", "redis", "memory":
	default:
		return config{}, fmt.Errorf("unknown TOKEN_STORE %q (expected file, bolt, redis or memory)", cfg.tokenStore)
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative, got %s", key, value)
	}
	return d, nil
}

// warnings returns the configuration warnings printed before a command runs.
func (c config) warnings() []string {
	var out []string
	if strings.HasPrefix(strings.ToLower(c.apiURL), "http://") {
		out = append(out,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
	}
	if c.clientID != defaultClientID {
		if _, err := uuid.Parse(c.clientID); err != nil {
			out = append(out,
				fmt.Sprintf("⚠️  Warning: CLIENT_ID doesn't appear to be a valid UUID: %s", c.clientID),
				"⚠️  Profiles are keyed by CLIENT_ID; use a stable UUID to avoid collisions.",
			)
		}
	}
	return out
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = lvl
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// openStore returns the configured credential store, a human-readable location
// and a close func.
func openStore(cfg config) (credstore.Store, string, func() error, error) {
	noop := func() error { return nil }

	switch cfg.tokenStore {
	case "memory":
		return credstore.NewMemoryStore(), "memory (this process only)", noop, nil
	case "bolt":
		s, err := credstore.OpenBoltStore(cfg.boltPath, cfg.clientID)
		if err != nil {
			return nil, "", nil, err
		}
		return s, cfg.boltPath, s.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		return credstore.NewRedisStore(rdb, "", cfg.clientID, cfg.redisTTL), "redis://" + cfg.redisAddr, rdb.Close, nil
	default:
		s := credstore.NewFileStore(cfg.tokenFile, cfg.clientID)
		return s, s.Path(), noop, nil
	}
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// withDisplayer runs fn with a bubbletea displayer on a terminal and plain
// text otherwise. Failures are reported through the displayer before returning.
func withDisplayer(apiURL string, fn func(d tui.Displayer) error) error {
	report := func(d tui.Displayer, err error) error {
		if err != nil {
			d.Fatal(err)
			return errSilent{err}
		}
		d.Done()
		return nil
	}

	if !isTTY() {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner(apiURL)
		return report(d, fn(d))
	}

	// WithInput(nil): BubbleTea skips terminal capability queries.
	// Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(tui.NewModel(), tea.WithOutput(os.Stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
	}()

	d := tui.NewProgramDisplayer(p)
	d.Banner(apiURL)
	runErr := report(d, fn(d))
	p.Quit()
	wg.Wait()
	return runErr
}

// errSilent marks an error the displayer has already shown.
type errSilent struct{ error }

func (e errSilent) Unwrap() error { return e.error }

// app holds what a command needs after PersistentPreRunE.
type app struct {
	flags flagValues
	cfg   config
	log   *zap.Logger
	out   io.Writer
}

// newClient opens the store and builds an API client reporting to d.
func (a *app) newClient(d tui.Displayer) (*apiclient.Client, string, func() error, error) {
	store, location, closeStore, err := openStore(a.cfg)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	c, err := apiclient.New(a.cfg.apiURL, store,
		apiclient.WithLogger(a.log),
		apiclient.WithObserver(d),
		apiclient.WithRefreshTimeout(a.cfg.refreshTimeout),
		apiclient.WithSessionInvalidated(func(reason apiclient.Reason) {
			d.ReAuthRequired(apiclient.LoginURL(a.cfg.apiURL, reason))
		}),
	)
	if err != nil {
		_ = closeStore()
		return nil, "", nil, err
	}
	return c, location, closeStore, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "recon-cli",
		Short:         "Command-line client for the reconciliation API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.flags)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.logLevel)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = log
			if cmd.Name() != "serve" {
				for _, w := range cfg.warnings() {
					fmt.Fprintln(os.Stderr, w)
				}
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.apiURL, "api-url", "", "API base URL (default: http://localhost:8080 or API_URL env)")
	pf.StringVar(&a.flags.clientID, "client-id", "", "Profile key for stored credentials (CLIENT_ID env)")
	pf.StringVar(&a.flags.tokenStore, "token-store", "", "Credential store: file, bolt, redis or memory (TOKEN_STORE env)")
	pf.StringVar(&a.flags.tokenFile, "token-file", "", "Token file for the file store (default: .recon-tokens.json or TOKEN_FILE env)")
	pf.StringVar(&a.flags.boltPath, "bolt-path", "", "Database path for the bolt store (default: .recon-tokens.db or BOLT_PATH env)")
	pf.StringVar(&a.flags.redisAddr, "redis-addr", "", "Redis address for the redis store (default: localhost:6379 or REDIS_ADDR env)")
	pf.StringVar(&a.flags.redisTTL, "redis-ttl", "", "Expire redis credentials after this long (REDIS_TTL env, 0 disables)")
	pf.StringVar(&a.flags.refreshTimeout, "refresh-timeout", "", "Upper bound for one token refresh (default: 15s or REFRESH_TIMEOUT env)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: warn or LOG_LEVEL env)")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newGetCmd(a),
		newBurstCmd(a),
		newForgotPasswordCmd(a),
		newResetPasswordCmd(a),
		newServeCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		var silent errSilent
		if !errors.As(err, &silent) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", apiclient.ErrorMessage(err))
		}
		stop()
		os.Exit(1)
	}
}
