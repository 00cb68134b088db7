package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"storeadmin/console/internal/apiclient"
	"storeadmin/console/internal/session"
)

func registerSessionHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Session == nil {
			writeError(w, http.StatusServiceUnavailable, "session unavailable")
			return
		}
		sess := deps.Session.Session()
		resp := map[string]any{
			"authenticated": sess.Authenticated(),
			"initializing":  sess.Initializing,
			"user":          sess.Identity,
		}
		if deps.API != nil && sess.Authenticated() {
			if exp, ok := deps.API.AccessExpiry(); ok {
				resp["accessExpiresAt"] = exp.UTC().Format(time.RFC3339)
			}
		}
		if notice := deps.Notices.Take(); notice != "" {
			resp["notice"] = notice
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		if deps.LoginLimiter != nil && !deps.LoginLimiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Email) == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		identity, err := deps.Auth.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			auditReq(deps.Audit, r, req.Email, "auth.login", "", failureOutcome(err), err.Error())
			writeAuthError(w, err, "login failed")
			return
		}
		auditReq(deps.Audit, r, identity.ID, "auth.login", "", "success", "")

		writeJSON(w, http.StatusOK, map[string]any{
			"user":     identity,
			"redirect": consumeReturnPath(deps, r),
		})
	})

	mux.HandleFunc("/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}

		var req session.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "name, email and password are required")
			return
		}

		res, err := deps.Auth.Register(r.Context(), req)
		if err != nil {
			auditReq(deps.Audit, r, req.Email, "auth.register", "", failureOutcome(err), err.Error())
			writeAuthError(w, err, "registration failed")
			return
		}
		if res.Identity == nil {
			auditReq(deps.Audit, r, req.Email, "auth.register", "", "pending", "")
			status := res.Status
			if status == "" {
				status = session.RegisterStatusPending
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": status, "message": res.Message})
			return
		}
		auditReq(deps.Audit, r, res.Identity.ID, "auth.register", "", "success", "")
		writeJSON(w, http.StatusCreated, map[string]any{
			"user":     res.Identity,
			"redirect": session.DefaultPath,
		})
	})

	mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		actor := ""
		if deps.Session != nil {
			if id := deps.Session.Session().Identity; id != nil {
				actor = id.ID
			}
		}
		deps.Auth.Logout(r.Context())
		auditReq(deps.Audit, r, actor, "auth.logout", "", "success", "")
		w.WriteHeader(http.StatusNoContent)
	})
}

func consumeReturnPath(deps Deps, r *http.Request) string {
	if deps.ReturnPaths == nil {
		return session.DefaultPath
	}
	p, err := deps.ReturnPaths.Consume(r.Context())
	if err != nil {
		deps.Logger.Warn("consume return path", "err", err)
	}
	return p
}

// writeAuthError maps login and registration failures. Transport failures
// are passed through verbatim.
func writeAuthError(w http.ResponseWriter, err error, fallback string) {
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, session.ErrNetwork):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Message)
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func failureOutcome(err error) string {
	if apiclient.IsCode(err, apiclient.CodeAccountRestricted) {
		return "restricted"
	}
	return "failed"
}
