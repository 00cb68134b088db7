package session

import "errors"

var (
	// ErrIdentityUnavailable means no session exists and none was recovered.
	ErrIdentityUnavailable = errors.New("session: identity unavailable")
	// ErrCredentialExpired is the API's "access credential invalid or expired" signal.
	ErrCredentialExpired = errors.New("session: access credential expired")
	ErrRefreshFailed     = errors.New("session: credential refresh failed")
	ErrRoleForbidden     = errors.New("session: role may not use the dashboard")
	ErrPermissionDenied  = errors.New("session: permission denied")
	// ErrNetwork is a transport failure unrelated to authentication.
	ErrNetwork            = errors.New("session: network error")
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	ErrAccountRestricted  = errors.New("session: account restricted")
	ErrListenerActive     = errors.New("session: restriction listener already active")
)
