package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oauth "github.com/giantswarm/oauth-authz"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/issuer"
	"github.com/giantswarm/oauth-authz/security"
)

const readHeaderTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Long: `Start the authorization server.

Users for the password grant are given as name:bcrypt-hash pairs (see
hash-password), trusted JWT bearer assertion issuers as issuer=base64-key
pairs. Every flag can also be set as an AUTHZ_ environment variable, e.g.
AUTHZ_LISTEN_ADDR.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen-addr", ":8080", "Address to listen on")
	flags.String("issuer", "http://localhost:8080", "Issuer identifier (base URL) of this server")
	flags.Bool("trust-proxy", false, "Trust X-Forwarded-For headers")
	flags.Int("trusted-proxy-count", 1, "Number of trusted proxies in front of the server")
	flags.Bool("audit-log", true, "Enable security audit logging")
	flags.StringSlice("user", nil, "Password grant user as name:bcrypt-hash (repeatable)")
	flags.StringSlice("assertion-key", nil, "Trusted assertion issuer as issuer=base64-key (repeatable)")
	flags.StringSlice("password-grant-alias", nil, "Additional grant_type values for the password grant")
	flags.Duration("clock-skew", security.DefaultClockSkewGracePeriod, "Allowed clock skew for token and assertion expiry")
	flags.String("ott-link-base", "", "Base URL of one-time token login links (default: issuer + /login/ott)")
	flags.Float64("token-rate-limit", oauth.DefaultTokenRequestsPerSecond, "Requests per second per IP at the token endpoints, negative disables")
	flags.Int("token-rate-burst", oauth.DefaultTokenBurst, "Burst size per IP at the token endpoints")
	flags.Bool("metrics", true, "Expose Prometheus metrics at /metrics")
	flags.Duration("shutdown-timeout", 15*time.Second, "Grace period for in-flight requests on shutdown")
	addStorageFlags(cmd)

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	logger, err := stderrLogger(v)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     "authz-server",
		ServiceVersion:  Version,
		Enabled:         v.GetBool("metrics"),
		MetricsExporter: instrumentation.MetricsExporterPrometheus,
	})
	if err != nil {
		return fmt.Errorf("initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = inst.Shutdown(shutdownCtx)
	}()

	b, err := openBackend(ctx, v, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	b.SetInstrumentation(inst)

	iss, err := newIssuer(v, logger)
	if err != nil {
		return err
	}

	srv, err := oauth.NewServer(b.stores, iss, b.codec, serverConfig(v), logger)
	if err != nil {
		return err
	}
	defer srv.Stop()
	srv.SetInstrumentation(inst)

	mux := http.NewServeMux()
	mux.Handle("/", oauth.NewHandler(srv, logger).Routes())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if v.GetBool("metrics") {
		mux.Handle("/metrics", promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:              v.GetString("listen-addr"),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", httpServer.Addr, "issuer", v.GetString("issuer"))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// serverConfig maps the serve flags onto the server configuration.
func serverConfig(v *viper.Viper) *oauth.Config {
	return &oauth.Config{
		Issuer:               v.GetString("issuer"),
		TrustProxy:           v.GetBool("trust-proxy"),
		TrustedProxyCount:    v.GetInt("trusted-proxy-count"),
		ClockSkewGracePeriod: v.GetDuration("clock-skew"),
		PasswordGrantAliases: v.GetStringSlice("password-grant-alias"),
		EnableAuditLogging:   v.GetBool("audit-log"),
		RateLimit: oauth.RateLimitConfig{
			TokenRequestsPerSecond: v.GetFloat64("token-rate-limit"),
			TokenBurst:             v.GetInt("token-rate-burst"),
		},
		OneTimeToken: oauth.OneTimeTokenConfig{
			LinkBaseURL: v.GetString("ott-link-base"),
		},
	}
}

func newIssuer(v *viper.Viper, logger *slog.Logger) (*issuer.ReferenceIssuer, error) {
	cfg := issuer.Config{
		Issuer:    v.GetString("issuer"),
		ClockSkew: v.GetDuration("clock-skew"),
		Logger:    logger,
	}

	if entries := v.GetStringSlice("user"); len(entries) > 0 {
		users, err := parseUsers(entries)
		if err != nil {
			return nil, err
		}
		cfg.Users = users
	}

	keys, err := parseAssertionKeys(v.GetStringSlice("assertion-key"))
	if err != nil {
		return nil, err
	}
	cfg.AssertionKeys = keys

	return issuer.New(cfg), nil
}

// parseUsers reads name:bcrypt-hash pairs.
func parseUsers(entries []string) (*issuer.StaticUsers, error) {
	users := issuer.NewStaticUsers()
	for _, entry := range entries {
		name, hash, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid user entry %q, want name:bcrypt-hash", name)
		}
		if err := users.AddUserHash(name, hash); err != nil {
			return nil, fmt.Errorf("user %s: %w", name, err)
		}
	}
	return users, nil
}

// parseAssertionKeys reads issuer=base64-key pairs.
func parseAssertionKeys(entries []string) (map[string][]byte, error) {
	keys := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		iss, encoded, ok := strings.Cut(entry, "=")
		if !ok || iss == "" {
			return nil, fmt.Errorf("invalid assertion key for %q, want issuer=base64-key", iss)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("assertion key for %s: %w", iss, err)
		}
		if len(key) < 32 {
			return nil, fmt.Errorf("assertion key for %s must be at least 32 bytes", iss)
		}
		keys[iss] = key
	}
	return keys, nil
}
