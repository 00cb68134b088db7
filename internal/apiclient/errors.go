package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	"storeadmin/console/internal/session"
)

// Error codes the remote API puts in the "code" field.
const (
	CodeAccountRestricted = "ACCOUNT_RESTRICTED"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeInvalidCredential = "INVALID_CREDENTIALS"
)

// APIError is a non-2xx answer from the remote API. It unwraps to the
// session error it stands for, so callers can use errors.Is:
//
//	if errors.Is(err, session.ErrCredentialExpired) { ... }
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`

	kind error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api: %s (%d): %s", e.Code, e.Status, msg)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, msg)
}

func (e *APIError) Unwrap() error {
	if e.kind != nil {
		return e.kind
	}
	switch {
	case e.Status == http.StatusUnauthorized:
		return session.ErrCredentialExpired
	case e.Status == http.StatusForbidden && e.Code == CodeAccountRestricted:
		return session.ErrAccountRestricted
	case e.Status == http.StatusForbidden:
		return session.ErrPermissionDenied
	}
	return nil
}

// Restricted reports whether the API refused the call because the
// account is restricted.
func (e *APIError) Restricted() bool {
	return e.Status == http.StatusForbidden && e.Code == CodeAccountRestricted
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
