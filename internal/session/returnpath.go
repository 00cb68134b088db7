package session

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"storeadmin/console/internal/storage"
)

const (
	ReturnPathKey = "redirectAfterLogin"
	LoginPath     = "/login"
	RegisterPath  = "/register"
	DefaultPath   = "/"
)

// ReturnPaths remembers where a redirected navigation wanted to go so the
// login flow can send the operator back there.
type ReturnPaths struct {
	store storage.Store
}

func NewReturnPaths(store storage.Store) *ReturnPaths {
	return &ReturnPaths{store: store}
}

// Recordable reports whether path may be used as a return target. The
// login and registration pages never are.
func Recordable(path string) bool {
	u, err := url.Parse(path)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return false
	}
	p := strings.TrimSuffix(u.Path, "/")
	return p != LoginPath && p != RegisterPath
}

// Remember stores path unless it is not recordable.
func (r *ReturnPaths) Remember(ctx context.Context, path string) error {
	if r == nil || !Recordable(path) {
		return nil
	}
	return r.store.Set(ctx, ReturnPathKey, []byte(path))
}

// Consume returns the remembered path, or DefaultPath, and forgets it.
func (r *ReturnPaths) Consume(ctx context.Context) (string, error) {
	if r == nil {
		return DefaultPath, nil
	}
	b, err := r.store.Get(ctx, ReturnPathKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return DefaultPath, nil
		}
		return DefaultPath, err
	}
	if err := r.store.Delete(ctx, ReturnPathKey); err != nil {
		return DefaultPath, err
	}
	path := string(b)
	if !Recordable(path) {
		return DefaultPath, nil
	}
	return path, nil
}

func (r *ReturnPaths) Clear(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.store.Delete(ctx, ReturnPathKey)
}
