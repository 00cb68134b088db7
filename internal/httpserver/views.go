package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"storeadmin/console/internal/session"
)

const maxProxyBodyBytes = 1 << 20

func registerViewHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/views/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Guard == nil {
			writeError(w, http.StatusServiceUnavailable, "guard unavailable")
			return
		}

		viewPath := "/" + strings.TrimPrefix(r.URL.Path, "/v1/views/")
		if r.URL.RawQuery != "" {
			viewPath += "?" + r.URL.RawQuery
		}

		nav := deps.Guard.Navigate(viewPath)
		defer nav.Close()
		ctx, cancel := context.WithTimeout(r.Context(), deps.ViewWait)
		defer cancel()
		d := nav.Await(ctx)

		switch d.Kind {
		case session.DecisionAdmit:
			var user *session.Identity
			if deps.Session != nil {
				user = deps.Session.Session().Identity
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"view":     viewPath,
				"decision": d.Kind.String(),
				"user":     user,
			})
		case session.DecisionRedirectToLogin:
			w.Header().Set("Location", session.LoginPath)
			resp := map[string]any{
				"view":     viewPath,
				"decision": d.Kind.String(),
				"location": session.LoginPath,
			}
			if d.Reason != "" {
				resp["reason"] = d.Reason
			}
			writeJSON(w, http.StatusSeeOther, resp)
		case session.DecisionDenyRole:
			writeJSON(w, http.StatusForbidden, map[string]any{
				"view":     viewPath,
				"decision": d.Kind.String(),
				"error":    d.Reason,
				"actions": []map[string]string{
					{"label": "Sign out", "method": http.MethodPost, "href": "/v1/auth/logout"},
				},
			})
		default:
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"view":     viewPath,
				"decision": d.Kind.String(),
			})
		}
	})

	mux.HandleFunc("/v1/permissions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Session == nil {
			writeError(w, http.StatusServiceUnavailable, "session unavailable")
			return
		}
		token := strings.TrimPrefix(r.URL.Path, "/v1/permissions/")
		if _, _, err := session.ParseCapability(token); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		identity := deps.Session.Session().Identity
		writeJSON(w, http.StatusOK, map[string]any{
			"permission": token,
			"allowed":    identity.Can(token),
		})
	})
}

// registerProxyHandlers forwards /v1/api/{path} to the remote API for a
// signed-in staff operator. Credential renewal and restriction reporting
// happen in the interceptor.
func registerProxyHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/api/", func(w http.ResponseWriter, r *http.Request) {
		if deps.API == nil || deps.Session == nil {
			writeError(w, http.StatusServiceUnavailable, "remote api unavailable")
			return
		}
		sess := deps.Session.Session()
		switch {
		case !sess.Authenticated():
			writeError(w, http.StatusUnauthorized, "not signed in")
			return
		case !sess.Identity.Role.Staff():
			writeError(w, http.StatusForbidden, "staff account required")
			return
		}

		target := "/" + strings.TrimPrefix(r.URL.Path, "/v1/api/")
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		var body []byte
		if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
			b, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodyBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, "read request body")
				return
			}
			if len(b) > 0 {
				body = b
			}
		}

		resp, err := deps.API.Do(r.Context(), r.Method, target, body, r.Header)
		if err != nil {
			if errors.Is(err, session.ErrNetwork) {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	})
}
