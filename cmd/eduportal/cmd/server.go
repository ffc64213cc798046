package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/eduportal/api"
	"github.com/jmcleod/eduportal/internal/util"
	"github.com/jmcleod/eduportal/session"
	"github.com/jmcleod/eduportal/upstream"
)

const (
	sessionKeyBytes = 32
	sweepInterval   = time.Minute
)

var (
	port              int
	upstreamURL       string
	institution       string
	appTitle          string
	sessionKeyHex     string
	secureCookies     bool
	trustedProxies    string
	auditWebhookURL   string
	auditWebhookAuth  string
	tlsCert           string
	tlsKey            string
	breakerFailures   uint32
	breakerOpenPeriod time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the portal server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(os.Stderr, logLevel, true)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		if upstreamURL == "" {
			return errors.New("--upstream-url is required")
		}
		key, err := sessionKey(sessionKeyHex, logger)
		if err != nil {
			return err
		}
		proxies, err := api.ParseTrustedProxies(trustedProxies)
		if err != nil {
			return err
		}

		client, err := upstream.NewClient(upstreamURL,
			upstream.WithLogger(logger),
			upstream.WithInstitution(institution),
			upstream.WithAppTitle(appTitle),
			upstream.WithBreaker(breakerFailures, breakerOpenPeriod),
		)
		if err != nil {
			return fmt.Errorf("configuring upstream client: %w", err)
		}
		sessions, err := session.NewStore(key, session.WithSecureCookies(secureCookies))
		util.WipeBytes(key)
		if err != nil {
			return fmt.Errorf("configuring session store: %w", err)
		}

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithTrustedProxies(proxies),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Error("alert", "type", e.Type, "message", e.Message, "count", e.Count, "threshold", e.Threshold)
			}),
		}
		if auditWebhookURL != "" {
			opts = append(opts, api.WithAuditWebhook(auditWebhookURL, auditWebhookAuth))
		}
		a := api.New(client, sessions, opts...)
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Report pages can take two upstream negotiations.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go sweepLimiters(ctx, a)

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if tlsCert != "" && tlsKey != "" {
				err = server.ListenAndServeTLS(tlsCert, tlsKey)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (upstream: %s)...\n", port, client.BaseURL())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// sessionKey decodes the hex session secret, or generates a random one that
// lives only as long as the process.
func sessionKey(hexKey string, logger *slog.Logger) ([]byte, error) {
	if hexKey == "" {
		logger.Warn("no session key configured, sessions will not survive a restart")
		return util.RandomBytes(sessionKeyBytes)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("session key must be hex: %w", err)
	}
	if len(key) < sessionKeyBytes {
		return nil, fmt.Errorf("session key must be at least %d bytes, got %d", sessionKeyBytes, len(key))
	}
	return key, nil
}

func sweepLimiters(ctx context.Context, a *api.API) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.SweepLimiters()
		}
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&upstreamURL, "upstream-url", "", "Base URL of the TOTVS EduConnect server")
	serverCmd.Flags().StringVar(&institution, "institution", upstream.DefaultInstitution, "Institution code sent with the upstream login")
	serverCmd.Flags().StringVar(&appTitle, "app-title", upstream.DefaultAppTitle, "Application title sent with the upstream login")
	serverCmd.Flags().StringVar(&sessionKeyHex, "session-key", "", "Hex encoded secret (32+ bytes) sealing session cookies")
	serverCmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "Mark session cookies Secure (enable behind HTTPS)")
	serverCmd.Flags().StringVar(&trustedProxies, "trusted-proxies", "", "Comma separated CIDRs or IPs whose forwarding headers are trusted")
	serverCmd.Flags().StringVar(&auditWebhookURL, "audit-webhook", "", "URL receiving audit events as JSON")
	serverCmd.Flags().StringVar(&auditWebhookAuth, "audit-webhook-header", "", `Extra header for the audit webhook, e.g. "Authorization: Bearer ..."`)
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().Uint32Var(&breakerFailures, "breaker-failures", 5, "Consecutive upstream failures that open the circuit breaker")
	serverCmd.Flags().DurationVar(&breakerOpenPeriod, "breaker-open", 30*time.Second, "How long the circuit breaker stays open")
}
