// devapi serves the remote /auth endpoints and a small catalog for local
// console development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"storeadmin/console/internal/devapi"
	"storeadmin/console/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr          string
		seedPath      string
		secret        string
		accessTTL     time.Duration
		refreshTTL    time.Duration
		autoApprove   bool
		registerRole  string
		secureCookies bool
		logLevel      string
	)

	flagSet := pflag.NewFlagSet("devapi", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":8081", "listen address")
	flagSet.StringVar(&seedPath, "seed", "", "YAML user seed file (default: built-in development accounts)")
	flagSet.StringVar(&secret, "secret", os.Getenv("DEVAPI_SECRET"), "HMAC secret for access credentials, at least 16 bytes")
	flagSet.DurationVar(&accessTTL, "access-ttl", 15*time.Minute, "access credential lifetime")
	flagSet.DurationVar(&refreshTTL, "refresh-ttl", 7*24*time.Hour, "refresh credential lifetime")
	flagSet.BoolVar(&autoApprove, "auto-approve", false, "activate registered accounts immediately")
	flagSet.StringVar(&registerRole, "register-role", "moderator", "role given to registered accounts")
	flagSet.BoolVar(&secureCookies, "secure-cookies", false, "mark credential cookies Secure")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if secret == "" {
		return fmt.Errorf("--secret or DEVAPI_SECRET is required")
	}

	logger := observability.NewLoggerTo(os.Stdout, logLevel)

	users, err := devapi.LoadSeed(seedPath, 0)
	if err != nil {
		return err
	}
	store := devapi.NewInMemoryUserStore()
	if err := devapi.SeedUsers(store, users); err != nil {
		return err
	}
	svc, err := devapi.NewService(store, devapi.ServiceConfig{
		Secret:       secret,
		AccessTTL:    accessTTL,
		RefreshTTL:   refreshTTL,
		AutoApprove:  autoApprove,
		RegisterRole: registerRole,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	server := &http.Server{
		Addr: addr,
		Handler: devapi.NewHandler(svc, devapi.NewCatalog(), devapi.HandlerConfig{
			SecureCookies: secureCookies,
			Logger:        logger,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devapi listening", "addr", addr, "users", len(users))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
