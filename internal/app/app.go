package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"

	"storeadmin/console/internal/apiclient"
	"storeadmin/console/internal/audit"
	"storeadmin/console/internal/clock"
	"storeadmin/console/internal/config"
	"storeadmin/console/internal/forms"
	"storeadmin/console/internal/httpserver"
	"storeadmin/console/internal/observability"
	"storeadmin/console/internal/session"
	"storeadmin/console/internal/storage"
)

type App struct {
	cfg    config.Config
	log    *slog.Logger
	db     *sql.DB
	server *httpserver.Server

	store       *session.Store
	initializer *session.Initializer
	listener    *session.RestrictionListener
	forms       *forms.Store
	stopAudit   func()
}

func New(cfg config.Config) (*App, error) {
	return NewWithLogger(cfg, observability.NewLogger())
}

func NewWithLogger(cfg config.Config, logger *slog.Logger) (*App, error) {
	observability.RegisterMetrics()

	db, durable, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	closeDB := func() {
		if db != nil {
			_ = db.Close()
		}
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Logger:  logger.With("component", "apiclient"),
	})
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("create api client: %w", err)
	}

	store := session.NewStore(logger.With("component", "session"))
	returns := session.NewReturnPaths(storage.NewMemory())
	coordinator := session.NewRefreshCoordinator(client.Refresh, cfg.API.RefreshTimeout, logger.With("component", "refresh"))
	initializer := session.NewInitializer(client, store, coordinator, returns, logger.With("component", "initializer"))
	guard := session.NewGuard(store, initializer, returns, logger.With("component", "guard"))

	notices := &httpserver.NoticeBoard{}
	channel := session.NewRestrictionChannel()
	listener := session.NewRestrictionListener(channel, store, notices, logger.With("component", "restriction"))
	if err := listener.Start(); err != nil {
		closeDB()
		return nil, fmt.Errorf("start restriction listener: %w", err)
	}

	client.SetExpiryHandler(initializer.Expired)
	client.SetRestrictionHandler(func(reason string) {
		channel.Publish(reason)
	})

	formStore := forms.New(durable, clock.Real(), forms.Config{
		Debounce: cfg.Forms.Debounce,
		TTL:      cfg.Forms.TTL,
	}, logger.With("component", "forms"))

	auditLogger := audit.NewLogger(cfg.AuditLogFile)
	stopAudit := auditLogger.WatchSession(store)

	server := httpserver.New(cfg.HTTP, httpserver.Deps{
		Session:         store,
		Auth:            initializer,
		Guard:           guard,
		ReturnPaths:     returns,
		Forms:           formStore,
		Preferences:     durable,
		API:             client,
		Notices:         notices,
		Audit:           auditLogger,
		LoginLimiter:    httpserver.NewLoginLimiter(cfg.Login.RatePerMinute, cfg.Login.Burst),
		Metrics:         observability.MetricsHandler(),
		Logger:          logger.With("component", "http"),
		FrontendDistDir: cfg.FrontendDistDir,
	})

	return &App{
		cfg:         cfg,
		log:         logger,
		db:          db,
		server:      server,
		store:       store,
		initializer: initializer,
		listener:    listener,
		forms:       formStore,
		stopAudit:   stopAudit,
	}, nil
}

func openStorage(cfg config.StorageConfig) (*sql.DB, storage.Store, error) {
	switch cfg.Driver {
	case config.StoragePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		store, err := storage.NewPostgres(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("create postgres state store: %w", err)
		}
		return db, store, nil
	case config.StorageFile:
		store, err := storage.NewFile(cfg.StateFile)
		if err != nil {
			return nil, nil, fmt.Errorf("create file state store: %w", err)
		}
		return nil, store, nil
	default:
		return nil, storage.NewMemory(), nil
	}
}

// Handler returns the console HTTP handler, including request logging.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Bootstrap determines the session the console starts with.
func (a *App) Bootstrap(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.API.BootstrapTimeout)
	defer cancel()
	if identity, err := a.initializer.Initialize(ctx); err == nil {
		a.log.Info("console session restored", "user_id", identity.ID, "role", string(identity.Role))
	}
}

// Close flushes pending form saves and detaches the session observers.
func (a *App) Close(ctx context.Context) error {
	a.listener.Stop()
	a.stopAudit()
	err := a.forms.Close(ctx)
	if a.db != nil {
		err = errors.Join(err, a.db.Close())
	}
	return err
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr, "api", a.cfg.API.BaseURL)
		errCh <- a.server.Start()
	}()
	go a.Bootstrap(ctx)

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := a.server.Shutdown(shutdownCtx)
		if closeErr := a.Close(shutdownCtx); closeErr != nil {
			a.log.Warn("close console state", "err", closeErr)
		}
		if err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if closeErr := a.Close(context.Background()); closeErr != nil {
			a.log.Warn("close console state", "err", closeErr)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
