package devapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"storeadmin/console/internal/observability"
	"storeadmin/console/internal/session"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	codeUnauthenticated    = "UNAUTHENTICATED"
	codeTokenExpired       = "TOKEN_EXPIRED"
	codeInvalidToken       = "INVALID_TOKEN"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeAccountRestricted  = "ACCOUNT_RESTRICTED"
	codeAccountPending     = "ACCOUNT_PENDING"
	codeForbidden          = "FORBIDDEN"
)

type HandlerConfig struct {
	// SecureCookies marks credential cookies Secure. Leave off for plain
	// HTTP development setups.
	SecureCookies bool
	Logger        *slog.Logger
}

type handler struct {
	svc     *Service
	catalog *Catalog
	cfg     HandlerConfig
	log     *slog.Logger
}

// NewHandler serves the remote API the console talks to: the /auth
// routes plus a small product and order catalog.
func NewHandler(svc *Service, catalog *Catalog, cfg HandlerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	h := &handler{svc: svc, catalog: catalog, cfg: cfg, log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/auth/me", h.me)
	mux.HandleFunc("/auth/login", h.login)
	mux.HandleFunc("/auth/refresh", h.refresh)
	mux.HandleFunc("/auth/logout", h.logout)
	mux.HandleFunc("/auth/register", h.register)
	mux.HandleFunc("/products", h.products)
	mux.HandleFunc("/products/", h.product)
	mux.HandleFunc("/orders", h.orders)
	mux.HandleFunc("/orders/", h.orderAction)
	mux.HandleFunc("/admin/users/", h.adminUser)
	return mux
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	u, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u.View()})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "", "email and password are required")
		return
	}

	u, tokens, err := h.svc.Login(req.Email, req.Password)
	if err != nil {
		h.log.Info("login rejected", "email", req.Email, "err", err)
		h.writeAuthError(w, u, err)
		return
	}
	h.log.Info("login", "user_id", u.ID, "role", u.Role)
	h.setCredentials(w, tokens)
	writeJSON(w, http.StatusOK, map[string]any{"user": u.View()})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	ck, err := r.Cookie(RefreshCookie)
	if err != nil || ck.Value == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "refresh token required")
		return
	}
	u, tokens, err := h.svc.Refresh(ck.Value)
	if err != nil {
		h.clearCredentials(w)
		h.writeAuthError(w, u, err)
		return
	}
	h.log.Debug("credential refreshed", "user_id", u.ID)
	h.setCredentials(w, tokens)
	writeJSON(w, http.StatusOK, map[string]any{"user": u.View()})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	if ck, err := r.Cookie(RefreshCookie); err == nil {
		h.svc.Logout(ck.Value)
	}
	h.clearCredentials(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	var in RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	u, tokens, err := h.svc.Register(in)
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	case errors.Is(err, ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "WEAK_PASSWORD", "password does not meet policy")
		return
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
		return
	case err != nil:
		h.log.Error("register failed", "err", err)
		writeError(w, http.StatusInternalServerError, "", "registration failed")
		return
	}
	h.log.Info("account registered", "user_id", u.ID, "status", u.Status)
	if tokens == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  StatusPending,
			"message": "Registration received. An administrator must approve the account before you can sign in.",
		})
		return
	}
	h.setCredentials(w, *tokens)
	writeJSON(w, http.StatusCreated, map[string]any{"user": u.View()})
}

func (h *handler) products(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	u, ok := h.authenticate(w, r)
	if !ok || !h.requirePermission(w, u, "product.read") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h.catalog.Products()})
}

func (h *handler) product(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/products/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "", "product not found")
		return
	}
	u, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !h.requirePermission(w, u, "product.read") {
			return
		}
		p, found := h.catalog.Product(id)
		if !found {
			writeError(w, http.StatusNotFound, "", "product not found")
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if !h.requirePermission(w, u, "product.delete") {
			return
		}
		if !h.catalog.DeleteProduct(id) {
			writeError(w, http.StatusNotFound, "", "product not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
	}
}

func (h *handler) orders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	u, ok := h.authenticate(w, r)
	if !ok || !h.requirePermission(w, u, "order.read") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h.catalog.Orders()})
}

func (h *handler) orderAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	trimmed := strings.TrimPrefix(r.URL.Path, "/orders/")
	if !strings.HasSuffix(trimmed, "/cancel") {
		writeError(w, http.StatusNotFound, "", "order route not found")
		return
	}
	id := strings.TrimSuffix(trimmed, "/cancel")
	u, ok := h.authenticate(w, r)
	if !ok || !h.requirePermission(w, u, "order.update") {
		return
	}
	o, found := h.catalog.SetOrderStatus(id, "cancelled")
	if !found {
		writeError(w, http.StatusNotFound, "", "order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// adminUser serves POST /admin/users/{id}/suspend and /approve.
func (h *handler) adminUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	id, action, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/admin/users/"), "/")
	if !ok || id == "" || (action != "suspend" && action != "approve") {
		writeError(w, http.StatusNotFound, "", "admin route not found")
		return
	}
	admin, authed := h.authenticate(w, r)
	if !authed {
		return
	}
	role := session.ParseRole(admin.Role)
	if !role.Is(session.RoleAdmin) && !role.Is(session.RoleSuperAdmin) {
		writeError(w, http.StatusForbidden, codeForbidden, "admin role required")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "", "invalid request body")
			return
		}
	}
	status := StatusActive
	if action == "suspend" {
		status = StatusSuspended
	}
	u, err := h.svc.SetStatus(id, status, req.Reason)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "", "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "", "update user failed")
		return
	}
	h.log.Info("account status changed", "user_id", u.ID, "status", u.Status, "by", admin.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user": u.View(), "status": u.Status})
}

func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) (User, bool) {
	ck, err := r.Cookie(AccessCookie)
	if err != nil || ck.Value == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return User{}, false
	}
	u, err := h.svc.Authenticate(ck.Value)
	if err != nil {
		h.writeAuthError(w, u, err)
		return User{}, false
	}
	return u, true
}

func (h *handler) requirePermission(w http.ResponseWriter, u User, token string) bool {
	perms := make([]session.Permission, 0, len(u.Permissions))
	for _, p := range u.Permissions {
		perms = append(perms, session.Permission{Token: p.Name})
	}
	if session.HasPermission(session.ParseRole(u.Role), u.PermissionNames, perms, token) {
		return true
	}
	writeError(w, http.StatusForbidden, codeForbidden, "missing permission "+token)
	return false
}

func (h *handler) writeAuthError(w http.ResponseWriter, u User, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, codeTokenExpired, "access token expired")
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "invalid token")
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
	case errors.Is(err, ErrAccountRestricted):
		writeError(w, http.StatusForbidden, codeAccountRestricted, RestrictionMessage(u))
	case errors.Is(err, ErrAccountPending):
		writeError(w, http.StatusForbidden, codeAccountPending, "account is awaiting approval")
	default:
		h.log.Error("auth failure", "err", err)
		writeError(w, http.StatusInternalServerError, "", "internal error")
	}
}

func (h *handler) setCredentials(w http.ResponseWriter, t Tokens) {
	// Both cookies live as long as the refresh credential so an expired
	// access JWT still reaches the API and is answered TOKEN_EXPIRED.
	maxAge := int(t.RefreshExpiresAt.Sub(t.IssuedAt).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, h.cookie(AccessCookie, t.Access, maxAge))
	http.SetCookie(w, h.cookie(RefreshCookie, t.Refresh, maxAge))
}

func (h *handler) clearCredentials(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(AccessCookie, "", -1))
	http.SetCookie(w, h.cookie(RefreshCookie, "", -1))
}

func (h *handler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}
