package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"storeadmin/console/internal/observability"
)

// IdentityAPI is the remote side of the session: the /auth endpoints.
type IdentityAPI interface {
	Me(ctx context.Context) (*Identity, error)
	Login(ctx context.Context, email, password string) (*Identity, error)
	Logout(ctx context.Context) error
	Register(ctx context.Context, req RegisterRequest) (RegisterResult, error)
}

type Refresher interface {
	Refresh(ctx context.Context) bool
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

const RegisterStatusPending = "pending"

// RegisterResult holds either the new identity or a pending status for
// accounts that need approval.
type RegisterResult struct {
	Identity *Identity `json:"user,omitempty"`
	Status   string    `json:"status,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Initializer writes the Store from the API: at startup, after a
// credential expiry, and on login, logout and registration.
type Initializer struct {
	api       IdentityAPI
	store     *Store
	refresher Refresher
	returns   *ReturnPaths
	log       *slog.Logger
}

func NewInitializer(api IdentityAPI, store *Store, refresher Refresher, returns *ReturnPaths, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Initializer{api: api, store: store, refresher: refresher, returns: returns, log: logger}
}

// Initialize determines the current identity. An expired access
// credential is refreshed once and the fetch retried once; nothing loops.
// On failure the session is cleared and the error returned.
func (in *Initializer) Initialize(ctx context.Context) (*Identity, error) {
	in.store.BeginInitializing()
	defer in.store.EndInitializing()

	identity, err := in.getMe(ctx)
	if err != nil {
		in.store.SetIdentity(nil)
		in.log.Info("no session after initialization", "err", err)
		return nil, err
	}
	in.store.SetIdentity(identity)
	return identity, nil
}

func (in *Initializer) getMe(ctx context.Context) (*Identity, error) {
	identity, err := in.api.Me(ctx)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, ErrCredentialExpired) {
		return nil, err
	}
	if !in.refresher.Refresh(ctx) {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	identity, err = in.api.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: identity fetch after refresh: %w", ErrIdentityUnavailable, err)
	}
	return identity, nil
}

// Recover is the route guard's path for a navigation that found no
// session: one coordinated refresh, then one identity fetch.
func (in *Initializer) Recover(ctx context.Context) (*Identity, error) {
	if !in.refresher.Refresh(ctx) {
		in.store.SetIdentity(nil)
		return nil, ErrRefreshFailed
	}
	identity, err := in.api.Me(ctx)
	if err != nil {
		in.store.SetIdentity(nil)
		return nil, fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
	}
	in.store.SetIdentity(identity)
	return identity, nil
}

// Expired handles an access credential that expired during a data call:
// one coordinated refresh. When the refresh fails the session is cleared,
// so the next guarded navigation redirects to login. A caller that gave up
// before the refresh resolved leaves the session alone.
func (in *Initializer) Expired(ctx context.Context) bool {
	if in.refresher.Refresh(ctx) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if in.store.Session().Authenticated() {
		in.log.Info("credential refresh failed mid-session, signing out")
	}
	in.store.SetIdentity(nil)
	return false
}

func (in *Initializer) Login(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	identity, err := in.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	in.store.SetIdentity(identity)
	return identity, nil
}

// Logout always clears the session; an API failure is only logged.
func (in *Initializer) Logout(ctx context.Context) {
	if err := in.api.Logout(ctx); err != nil {
		in.log.Warn("logout request failed", "err", err)
	}
	if err := in.returns.Clear(ctx); err != nil {
		in.log.Warn("clear return path", "err", err)
	}
	in.store.SetIdentity(nil)
}

func (in *Initializer) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	res, err := in.api.Register(ctx, req)
	if err != nil {
		return RegisterResult{}, err
	}
	if res.Identity != nil {
		in.store.SetIdentity(res.Identity)
	}
	return res, nil
}
