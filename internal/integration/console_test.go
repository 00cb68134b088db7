package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"storeadmin/console/internal/app"
	"storeadmin/console/internal/audit"
	"storeadmin/console/internal/config"
	"storeadmin/console/internal/devapi"
	"storeadmin/console/internal/observability"
)

const devSecret = "integration-secret-0123456789"

type consoleHarness struct {
	t       *testing.T
	svc     *devapi.Service
	app     *app.App
	console *httptest.Server
	client  *http.Client
	audit   string
}

func newConsoleHarness(t *testing.T, accessTTL time.Duration) *consoleHarness {
	t.Helper()
	svc, api := newDevAPI(t, accessTTL)
	h := newConsoleFor(t, api.URL)
	h.svc = svc
	return h
}

func newDevAPI(t *testing.T, accessTTL time.Duration) (*devapi.Service, *httptest.Server) {
	t.Helper()

	users, err := devapi.LoadSeed("", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("LoadSeed() error: %v", err)
	}
	userStore := devapi.NewInMemoryUserStore()
	if err := devapi.SeedUsers(userStore, users); err != nil {
		t.Fatalf("SeedUsers() error: %v", err)
	}
	svc, err := devapi.NewService(userStore, devapi.ServiceConfig{
		Secret:     devSecret,
		AccessTTL:  accessTTL,
		RefreshTTL: time.Hour,
		HashCost:   bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	api := httptest.NewServer(devapi.NewHandler(svc, devapi.NewCatalog(), devapi.HandlerConfig{}))
	t.Cleanup(api.Close)
	return svc, api
}

func newConsoleFor(t *testing.T, apiURL string) *consoleHarness {
	t.Helper()
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	cfg := config.Config{
		HTTP: config.HTTPConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		API: config.APIConfig{
			BaseURL:          apiURL,
			Timeout:          5 * time.Second,
			RefreshTimeout:   5 * time.Second,
			BootstrapTimeout: 5 * time.Second,
		},
		Storage:      config.StorageConfig{Driver: config.StorageMemory},
		Forms:        config.FormsConfig{Debounce: 10 * time.Millisecond, TTL: time.Hour},
		AuditLogFile: auditPath,
	}
	a, err := app.NewWithLogger(cfg, observability.Discard())
	if err != nil {
		t.Fatalf("app.NewWithLogger() error: %v", err)
	}
	console := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		console.Close()
		_ = a.Close(context.Background())
	})

	return &consoleHarness{
		t:       t,
		app:     a,
		console: console,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		audit: auditPath,
	}
}

func (h *consoleHarness) do(method, path string, body any) (int, http.Header, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.console.URL+path, &buf)
	if err != nil {
		h.t.Fatalf("NewRequest() error: %v", err)
	}
	res, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s error: %v", method, path, err)
	}
	defer res.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, res.Header, out
}

func (h *consoleHarness) auditActions() []string {
	h.t.Helper()
	f, err := os.Open(h.audit)
	if err != nil {
		h.t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()
	var actions []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e audit.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			h.t.Fatalf("decode audit line: %v", err)
		}
		actions = append(actions, e.Actor+" "+e.Action+" "+e.Outcome)
	}
	return actions
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestConsoleLoginRedirectAndGuardedViews(t *testing.T) {
	h := newConsoleHarness(t, time.Minute)

	h.app.Bootstrap(context.Background())
	if status, _, body := h.do(http.MethodGet, "/v1/session", nil); status != http.StatusOK || body["authenticated"] != false {
		t.Fatalf("expected signed-out bootstrap, got %d %v", status, body)
	}

	status, header, _ := h.do(http.MethodGet, "/v1/views/orders", nil)
	if status != http.StatusSeeOther || header.Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %d %q", status, header.Get("Location"))
	}

	status, _, body := h.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "mod@store.test", "password": "Moderator-pass-2024!"})
	if status != http.StatusOK {
		t.Fatalf("expected login 200, got %d %v", status, body)
	}
	if body["redirect"] != "/orders" {
		t.Fatalf("expected redirect back to /orders, got %v", body["redirect"])
	}

	if status, _, body := h.do(http.MethodGet, "/v1/views/orders", nil); status != http.StatusOK || body["decision"] != "admit" {
		t.Fatalf("expected admit, got %d %v", status, body)
	}
	if _, _, body := h.do(http.MethodGet, "/v1/permissions/order.update", nil); body["allowed"] != true {
		t.Fatalf("expected moderator to hold order.update, got %v", body)
	}
	if _, _, body := h.do(http.MethodGet, "/v1/permissions/product.delete", nil); body["allowed"] != false {
		t.Fatalf("expected moderator to lack product.delete, got %v", body)
	}

	if status, _, _ := h.do(http.MethodGet, "/v1/api/products", nil); status != http.StatusOK {
		t.Fatalf("expected proxied products 200, got %d", status)
	}

	if status, _, _ := h.do(http.MethodPost, "/v1/auth/logout", nil); status != http.StatusNoContent {
		t.Fatalf("expected logout 204, got %d", status)
	}
	if status, _, _ := h.do(http.MethodGet, "/v1/api/products", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected proxy 401 after logout, got %d", status)
	}

	actions := h.auditActions()
	for _, want := range []string{"usr-mod auth.login success", "usr-mod session.start success", "usr-mod session.end success", "usr-mod auth.logout success"} {
		if !contains(actions, want) {
			t.Fatalf("audit log missing %q: %v", want, actions)
		}
	}
}

func TestConsoleCustomerIsDenied(t *testing.T) {
	h := newConsoleHarness(t, time.Minute)

	status, _, body := h.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "customer@store.test", "password": "Customer-pass-2024!"})
	if status != http.StatusOK {
		t.Fatalf("expected login 200, got %d %v", status, body)
	}
	status, _, body = h.do(http.MethodGet, "/v1/views/", nil)
	if status != http.StatusForbidden || body["decision"] != "deny_role" {
		t.Fatalf("expected deny_role, got %d %v", status, body)
	}
}

func TestConsoleInvalidLogin(t *testing.T) {
	h := newConsoleHarness(t, time.Minute)

	status, _, body := h.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "admin@store.test", "password": "wrong"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %v", status, body)
	}
}

func TestConsoleRestrictionSignsOut(t *testing.T) {
	h := newConsoleHarness(t, time.Minute)

	if status, _, body := h.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "mod@store.test", "password": "Moderator-pass-2024!"}); status != http.StatusOK {
		t.Fatalf("expected login 200, got %d %v", status, body)
	}
	if _, err := h.svc.SetStatus("usr-mod", devapi.StatusSuspended, "Account suspended: policy review"); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}

	status, _, body := h.do(http.MethodGet, "/v1/api/products", nil)
	if status != http.StatusForbidden || body["code"] != "ACCOUNT_RESTRICTED" {
		t.Fatalf("expected restricted 403, got %d %v", status, body)
	}

	_, _, body = h.do(http.MethodGet, "/v1/session", nil)
	if body["authenticated"] != false || body["notice"] != "Account suspended: policy review" {
		t.Fatalf("expected signed-out session with notice, got %v", body)
	}

	status, header, body := h.do(http.MethodGet, "/v1/views/orders", nil)
	if status != http.StatusSeeOther || header.Get("Location") != "/login" {
		t.Fatalf("expected redirect after restriction, got %d %v", status, body)
	}
	if body["reason"] != "Account suspended: policy review" {
		t.Fatalf("expected restriction reason on redirect, got %v", body["reason"])
	}

	if actions := h.auditActions(); !contains(actions, "usr-mod session.restricted success") {
		t.Fatalf("audit log missing restriction: %v", actions)
	}
}

func TestConsoleRenewsExpiredAccessCredential(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real access credential to expire")
	}
	h := newConsoleHarness(t, time.Second)

	if status, _, body := h.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "inspector@store.test", "password": "Inspector-pass-2024!"}); status != http.StatusOK {
		t.Fatalf("expected login 200, got %d %v", status, body)
	}
	_, _, body := h.do(http.MethodGet, "/v1/session", nil)
	first, _ := body["accessExpiresAt"].(string)
	if first == "" {
		t.Fatalf("expected access expiry in session, got %v", body)
	}

	time.Sleep(2100 * time.Millisecond)

	if status, _, body := h.do(http.MethodGet, "/v1/api/orders", nil); status != http.StatusOK {
		t.Fatalf("expected renewed request to succeed, got %d %v", status, body)
	}
	_, _, body = h.do(http.MethodGet, "/v1/session", nil)
	if body["authenticated"] != true {
		t.Fatalf("expected session kept after renewal, got %v", body)
	}
	if second, _ := body["accessExpiresAt"].(string); second == first {
		t.Fatalf("expected a new access credential, expiry still %s", second)
	}
}

func TestConsoleFormsAndPreferences(t *testing.T) {
	h := newConsoleHarness(t, time.Minute)

	if status, _, _ := h.do(http.MethodPut, "/v1/forms/product-edit?flush=1", map[string]any{"title": "Widget"}); status != http.StatusOK {
		t.Fatalf("expected flushed form save, got %d", status)
	}
	status, _, body := h.do(http.MethodGet, "/v1/forms/product-edit", nil)
	data, _ := body["data"].(map[string]any)
	if status != http.StatusOK || data["title"] != "Widget" {
		t.Fatalf("expected saved form, got %d %v", status, body)
	}

	if status, _, _ := h.do(http.MethodPut, "/v1/preferences/theme", map[string]string{"theme": "dark"}); status != http.StatusOK {
		t.Fatalf("expected theme saved, got %d", status)
	}
	if _, _, body := h.do(http.MethodGet, "/v1/preferences/theme", nil); body["theme"] != "dark" {
		t.Fatalf("expected dark theme, got %v", body)
	}
}

func TestConsoleFailedMidSessionRefreshRedirects(t *testing.T) {
	var refreshCalls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "opaque", Path: "/"})
			_ = json.NewEncoder(w).Encode(map[string]any{
				"user": map[string]string{"id": "usr-admin", "name": "Admin", "email": "admin@store.test", "role": "admin"},
			})
			return
		case "/auth/refresh":
			refreshCalls.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "access token expired", "code": "TOKEN_EXPIRED"})
	}))
	t.Cleanup(api.Close)
	h := newConsoleFor(t, api.URL)

	if status, _, body := h.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "admin@store.test", "password": "x"}); status != http.StatusOK {
		t.Fatalf("expected login 200, got %d %v", status, body)
	}

	if status, _, _ := h.do(http.MethodGet, "/v1/api/orders", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected upstream 401 after failed renewal, got %d", status)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one renewal attempt, got %d", got)
	}
	if _, _, body := h.do(http.MethodGet, "/v1/session", nil); body["authenticated"] != false {
		t.Fatalf("expected session cleared after failed renewal, got %v", body)
	}

	status, header, _ := h.do(http.MethodGet, "/v1/views/orders", nil)
	if status != http.StatusSeeOther || header.Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %d %q", status, header.Get("Location"))
	}

	_, _, body := h.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "admin@store.test", "password": "x"})
	if body["redirect"] != "/orders" {
		t.Fatalf("expected originating path preserved, got %v", body["redirect"])
	}
}
