package devapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"
)

type apiHarness struct {
	t      *testing.T
	svc    *Service
	srv    *httptest.Server
	client *http.Client
}

func newHarness(t *testing.T) *apiHarness {
	t.Helper()
	svc, _ := newTestService(t, ServiceConfig{})
	srv := httptest.NewServer(NewHandler(svc, NewCatalog(), HandlerConfig{}))
	t.Cleanup(srv.Close)
	return &apiHarness{t: t, svc: svc, srv: srv, client: newJarClient(t)}
}

func newJarClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (h *apiHarness) do(client *http.Client, method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		h.t.Fatalf("NewRequest() error: %v", err)
	}
	res, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s error: %v", method, path, err)
	}
	defer res.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func (h *apiHarness) login(client *http.Client, email, password string) {
	h.t.Helper()
	status, body := h.do(client, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password})
	if status != http.StatusOK {
		h.t.Fatalf("login %s: expected 200, got %d %v", email, status, body)
	}
}

func TestMeRequiresCredential(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(h.client, http.MethodGet, "/auth/me", nil)
	if status != http.StatusUnauthorized || body["code"] != codeUnauthenticated {
		t.Fatalf("expected 401 %s, got %d %v", codeUnauthenticated, status, body)
	}
}

func TestLoginMeLogout(t *testing.T) {
	h := newHarness(t)
	h.login(h.client, "admin@store.test", "Admin-pass-2024!")

	status, body := h.do(h.client, http.MethodGet, "/auth/me", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", status, body)
	}
	user, _ := body["user"].(map[string]any)
	if user["id"] != "usr-admin" || user["role"] != "admin" {
		t.Fatalf("unexpected user %v", user)
	}

	if status, _ := h.do(h.client, http.MethodPost, "/auth/logout", nil); status != http.StatusNoContent {
		t.Fatalf("expected 204 from logout, got %d", status)
	}
	if status, _ := h.do(h.client, http.MethodGet, "/auth/me", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(h.client, http.MethodPost, "/auth/login", map[string]string{"email": "admin@store.test", "password": "nope"})
	if status != http.StatusUnauthorized || body["code"] != codeInvalidCredentials {
		t.Fatalf("expected 401 %s, got %d %v", codeInvalidCredentials, status, body)
	}
}

func TestExpiredAccessThenRefresh(t *testing.T) {
	h := newHarness(t)
	base := time.Now()
	h.svc.nowFunc = func() time.Time { return base }
	h.login(h.client, "mod@store.test", "Moderator-pass-2024!")

	h.svc.nowFunc = func() time.Time { return base.Add(2 * time.Minute) }
	status, body := h.do(h.client, http.MethodGet, "/auth/me", nil)
	if status != http.StatusUnauthorized || body["code"] != codeTokenExpired {
		t.Fatalf("expected 401 %s, got %d %v", codeTokenExpired, status, body)
	}

	if status, body := h.do(h.client, http.MethodPost, "/auth/refresh", nil); status != http.StatusOK {
		t.Fatalf("expected refresh 200, got %d %v", status, body)
	}
	if status, _ := h.do(h.client, http.MethodGet, "/auth/me", nil); status != http.StatusOK {
		t.Fatalf("expected 200 after refresh, got %d", status)
	}
}

func TestSuspendedAccountGetsRestrictedCode(t *testing.T) {
	h := newHarness(t)
	h.login(h.client, "mod@store.test", "Moderator-pass-2024!")

	admin := newJarClient(t)
	h.login(admin, "root@store.test", "Root-pass-2024!")
	status, body := h.do(admin, http.MethodPost, "/admin/users/usr-mod/suspend", map[string]string{"reason": "Policy violation"})
	if status != http.StatusOK {
		t.Fatalf("expected suspend 200, got %d %v", status, body)
	}

	status, body = h.do(h.client, http.MethodGet, "/orders", nil)
	if status != http.StatusForbidden || body["code"] != codeAccountRestricted || body["error"] != "Policy violation" {
		t.Fatalf("expected 403 %s, got %d %v", codeAccountRestricted, status, body)
	}
}

func TestSuspendRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	h.login(h.client, "inspector@store.test", "Inspector-pass-2024!")
	status, _ := h.do(h.client, http.MethodPost, "/admin/users/usr-mod/suspend", nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestDataRoutesCheckPermissions(t *testing.T) {
	h := newHarness(t)

	h.login(h.client, "catalog@store.test", "Catalog-pass-2024!")
	if status, _ := h.do(h.client, http.MethodGet, "/products", nil); status != http.StatusOK {
		t.Fatalf("expected product.read allowed, got %d", status)
	}
	if status, _ := h.do(h.client, http.MethodDelete, "/products/p-1001", nil); status != http.StatusForbidden {
		t.Fatalf("explicit permissions must override the admin fallback, got %d", status)
	}

	legacy := newJarClient(t)
	h.login(legacy, "admin@store.test", "Admin-pass-2024!")
	if status, _ := h.do(legacy, http.MethodDelete, "/products/p-1001", nil); status != http.StatusNoContent {
		t.Fatalf("expected legacy admin delete allowed, got %d", status)
	}

	mod := newJarClient(t)
	h.login(mod, "mod@store.test", "Moderator-pass-2024!")
	status, body := h.do(mod, http.MethodPost, "/orders/o-5001/cancel", nil)
	if status != http.StatusOK || body["status"] != "cancelled" {
		t.Fatalf("expected order cancelled, got %d %v", status, body)
	}
}

func TestRegisterPendingResponse(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(h.client, http.MethodPost, "/auth/register", map[string]string{
		"name": "Bo", "email": "bo@store.test", "password": "Strong-pass-99!",
	})
	if status != http.StatusAccepted || body["status"] != StatusPending {
		t.Fatalf("expected 202 pending, got %d %v", status, body)
	}
	status, _ = h.do(h.client, http.MethodPost, "/auth/register", map[string]string{
		"name": "Bo", "email": "bo@store.test", "password": "Strong-pass-99!",
	})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", status)
	}
}
