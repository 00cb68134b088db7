// Package httpserver is the console's HTTP surface: session and login
// endpoints, guarded view models, form preservation, preferences and the
// guarded proxy to the remote API.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"storeadmin/console/internal/apiclient"
	"storeadmin/console/internal/config"
	"storeadmin/console/internal/forms"
	"storeadmin/console/internal/observability"
	"storeadmin/console/internal/session"
	"storeadmin/console/internal/storage"
)

type SessionReader interface {
	Session() session.Session
}

type AuthService interface {
	Login(ctx context.Context, email, password string) (*session.Identity, error)
	Logout(ctx context.Context)
	Register(ctx context.Context, req session.RegisterRequest) (session.RegisterResult, error)
}

type Navigator interface {
	Navigate(path string) *session.Navigation
}

type ReturnPathStore interface {
	Consume(ctx context.Context) (string, error)
}

type FormStore interface {
	Save(formID string, data map[string]any) error
	Load(ctx context.Context, formID string) (forms.Snapshot, bool, error)
	Clear(ctx context.Context, formID string) error
	Flush(ctx context.Context, formID string) error
}

// RemoteAPI is the data-fetch interceptor in front of the remote API.
type RemoteAPI interface {
	Do(ctx context.Context, method, path string, body []byte, header http.Header) (*apiclient.Response, error)
	AccessExpiry() (time.Time, bool)
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
}

type Deps struct {
	Session     SessionReader
	Auth        AuthService
	Guard       Navigator
	ReturnPaths ReturnPathStore
	Forms       FormStore
	Preferences storage.Store
	API         RemoteAPI
	Notices     *NoticeBoard
	Audit       AuditLogger
	// LoginLimiter throttles login attempts. nil disables throttling.
	LoginLimiter    *rate.Limiter
	Metrics         http.Handler
	Logger          *slog.Logger
	FrontendDistDir string
	// ViewWait bounds how long a view request waits for a pending
	// session to settle.
	ViewWait time.Duration
}

const defaultViewWait = 5 * time.Second

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	handler := NewHandler(deps)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(deps.Logger, handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// NewLoginLimiter allows perMinute attempts with the given burst.
func NewLoginLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = observability.Discard()
	}
	if deps.ViewWait <= 0 {
		deps.ViewWait = defaultViewWait
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Session != nil && deps.Session.Session().Initializing {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	registerSessionHandlers(mux, deps)
	registerViewHandlers(mux, deps)
	registerStateHandlers(mux, deps)
	registerProxyHandlers(mux, deps)
	registerFrontendHandlers(mux, deps.FrontendDistDir)

	return mux
}

func registerFrontendHandlers(mux *http.ServeMux, distDir string) {
	distDir = strings.TrimSpace(distDir)
	if distDir == "" {
		return
	}
	indexPath := filepath.Join(distDir, "index.html")
	if _, err := os.Stat(indexPath); err != nil {
		return
	}

	fileServer := http.FileServer(http.Dir(distDir))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(r.URL.Path)
		if cleanPath == "." || cleanPath == "/" {
			http.ServeFile(w, r, indexPath)
			return
		}

		fullPath := filepath.Join(distDir, strings.TrimPrefix(cleanPath, "/"))
		info, err := os.Stat(fullPath)
		if err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		// SPA fallback.
		http.ServeFile(w, r, indexPath)
	})
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = observability.Discard()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(apiclient.RequestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(apiclient.RequestIDHeader, reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", reqID,
		)
	})
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func auditReq(a AuditLogger, r *http.Request, actor, action, target, outcome, detail string) {
	parts := []string{
		"rid=" + requestIDFromContext(r.Context()),
		"ip=" + clientIP(r),
		"ua=" + strings.TrimSpace(r.UserAgent()),
	}
	if strings.TrimSpace(detail) != "" {
		parts = append(parts, "detail="+strings.TrimSpace(detail))
	}
	auditSafe(a, actor, action, target, outcome, strings.Join(parts, " | "))
}

func auditSafe(a AuditLogger, actor, action, target, outcome, detail string) {
	if a == nil {
		return
	}
	_ = a.Log(actor, action, target, outcome, detail)
}
