package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"storeadmin/console/internal/forms"
	"storeadmin/console/internal/storage"
)

const (
	ThemeKey     = "theme"
	defaultTheme = "light"
)

var themes = map[string]bool{"light": true, "dark": true}

func registerStateHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/forms/", func(w http.ResponseWriter, r *http.Request) {
		if deps.Forms == nil {
			writeError(w, http.StatusServiceUnavailable, "form store unavailable")
			return
		}
		formID := strings.TrimPrefix(r.URL.Path, "/v1/forms/")
		if !forms.ValidFormID(formID) {
			writeError(w, http.StatusBadRequest, "invalid form id")
			return
		}

		switch r.Method {
		case http.MethodGet:
			snap, ok, err := deps.Forms.Load(r.Context(), formID)
			if err != nil {
				deps.Logger.Warn("load form snapshot", "form_id", formID, "err", err)
				writeError(w, http.StatusInternalServerError, "load form failed")
				return
			}
			if !ok {
				writeError(w, http.StatusNotFound, "no saved form")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"formId":  snap.FormID,
				"data":    snap.Data,
				"savedAt": snap.SavedAt.UTC().Format(time.RFC3339Nano),
			})
		case http.MethodPut:
			var data map[string]any
			if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if err := deps.Forms.Save(formID, data); err != nil {
				writeFormError(w, err)
				return
			}
			// flush=1 is sent when the view unmounts.
			if r.URL.Query().Get("flush") == "1" {
				if err := deps.Forms.Flush(r.Context(), formID); err != nil {
					writeFormError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
		case http.MethodDelete:
			if err := deps.Forms.Clear(r.Context(), formID); err != nil {
				writeFormError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	mux.HandleFunc("/v1/preferences/theme", func(w http.ResponseWriter, r *http.Request) {
		if deps.Preferences == nil {
			writeError(w, http.StatusServiceUnavailable, "preferences unavailable")
			return
		}
		switch r.Method {
		case http.MethodGet:
			theme := defaultTheme
			b, err := deps.Preferences.Get(r.Context(), ThemeKey)
			switch {
			case err == nil && themes[string(b)]:
				theme = string(b)
			case err != nil && !errors.Is(err, storage.ErrNotFound):
				writeError(w, http.StatusInternalServerError, "load preference failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"theme": theme})
		case http.MethodPut:
			var req struct {
				Theme string `json:"theme"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			theme := strings.ToLower(strings.TrimSpace(req.Theme))
			if !themes[theme] {
				writeError(w, http.StatusBadRequest, "theme must be light or dark")
				return
			}
			if err := deps.Preferences.Set(r.Context(), ThemeKey, []byte(theme)); err != nil {
				writeError(w, http.StatusInternalServerError, "save preference failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"theme": theme})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

func writeFormError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, forms.ErrInvalidFormID):
		writeError(w, http.StatusBadRequest, "invalid form id")
	case errors.Is(err, forms.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "form store closed")
	default:
		writeError(w, http.StatusInternalServerError, "save form failed")
	}
}
