// Package apiclient talks to the remote e-commerce API. It owns the
// credential cookies and wraps data calls in the interceptor that renews
// an expired access credential and reports account restrictions.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"storeadmin/console/internal/observability"
	"storeadmin/console/internal/session"
)

const (
	AccessCookie     = "access_token"
	RefreshCookie    = "refresh_token"
	RequestIDHeader  = "X-Request-Id"
	maxResponseBytes = 4 << 20
	defaultTimeout   = 15 * time.Second
)

var ErrInvalidPath = errors.New("apiclient: invalid request path")

type Config struct {
	// BaseURL is the remote API root, e.g. "http://localhost:8081".
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client holds one operator's credentials against the remote API.
type Client struct {
	base    string
	baseURL *url.URL
	http    *http.Client
	log     *slog.Logger

	mu           sync.RWMutex
	onExpired    func(ctx context.Context) bool
	onRestricted func(reason string)
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("apiclient: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid BaseURL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: cookie jar: %w", err)
	}
	var hc http.Client
	if cfg.HTTPClient != nil {
		hc = *cfg.HTTPClient
	}
	if hc.Jar == nil {
		hc.Jar = jar
	}
	if hc.Timeout == 0 {
		hc.Timeout = cfg.Timeout
	}

	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		baseURL: u,
		http:    &hc,
		log:     logger,
	}, nil
}

// SetExpiryHandler installs the function Do calls when the API reports an
// expired access credential. It returns whether renewal succeeded.
func (c *Client) SetExpiryHandler(fn func(ctx context.Context) bool) {
	c.mu.Lock()
	c.onExpired = fn
	c.mu.Unlock()
}

// SetRestrictionHandler installs the function Do calls when the API
// reports the account restricted.
func (c *Client) SetRestrictionHandler(fn func(reason string)) {
	c.mu.Lock()
	c.onRestricted = fn
	c.mu.Unlock()
}

type userEnvelope struct {
	User *session.Identity `json:"user"`
}

func decodeIdentity(body []byte) (*session.Identity, error) {
	var env userEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("apiclient: decode identity: %w", err)
	}
	if env.User == nil {
		return nil, fmt.Errorf("apiclient: response has no user")
	}
	return env.User, nil
}

// Me fetches the current identity. An expired access credential comes
// back as an error matching session.ErrCredentialExpired.
func (c *Client) Me(ctx context.Context) (*session.Identity, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	return decodeIdentity(body)
}

// Refresh renews the access credential using the refresh cookie. Every
// failure matches session.ErrRefreshFailed.
func (c *Client) Refresh(ctx context.Context) (*session.Identity, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrRefreshFailed, err)
	}
	identity, err := decodeIdentity(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrRefreshFailed, err)
	}
	return identity, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*session.Identity, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			apiErr.kind = session.ErrInvalidCredentials
		}
		return nil, err
	}
	return decodeIdentity(body)
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/auth/logout", nil)
	return err
}

func (c *Client) Register(ctx context.Context, req session.RegisterRequest) (session.RegisterResult, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/auth/register", req)
	if err != nil {
		return session.RegisterResult{}, err
	}
	var res session.RegisterResult
	if err := json.Unmarshal(body, &res); err != nil {
		return session.RegisterResult{}, fmt.Errorf("apiclient: decode register response: %w", err)
	}
	if res.Identity == nil && res.Status == "" {
		return session.RegisterResult{}, fmt.Errorf("apiclient: register response has neither user nor status")
	}
	return res, nil
}

// AccessExpiry reads the exp claim of the access cookie. The signature is
// not checked; the console only uses it for display.
func (c *Client) AccessExpiry() (time.Time, bool) {
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name != AccessCookie {
			continue
		}
		claims := jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(ck.Value, &claims); err != nil {
			return time.Time{}, false
		}
		if claims.ExpiresAt == nil {
			return time.Time{}, false
		}
		return claims.ExpiresAt.Time, true
	}
	return time.Time{}, false
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode request: %w", err)
		}
		body = b
	}
	resp, err := c.send(ctx, method, path, body, nil, path)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 200 && resp.Status < 300 {
		return resp.Body, nil
	}
	return nil, resp.apiError()
}

// Response is a remote API answer passed through the interceptor.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) apiError() *APIError {
	apiErr := &APIError{Status: r.Status}
	if err := json.Unmarshal(r.Body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(r.Body))
	}
	return apiErr
}

var forwardedHeaders = []string{"Accept", "Content-Type", "If-None-Match", RequestIDHeader}

// Do performs a data call. A 401 triggers one renewal through the expiry
// handler and, if it succeeds, one retry. A 403 with code
// ACCOUNT_RESTRICTED is reported to the restriction handler. Non-2xx
// answers are returned as a Response, not an error; errors are transport
// failures matching session.ErrNetwork.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, header http.Header) (*Response, error) {
	resp, err := c.send(ctx, method, path, body, header, "data")
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized {
		c.mu.RLock()
		onExpired := c.onExpired
		c.mu.RUnlock()
		if onExpired != nil && onExpired(ctx) {
			resp, err = c.send(ctx, method, path, body, header, "data")
			if err != nil {
				return nil, err
			}
		}
	}

	if resp.Status == http.StatusForbidden {
		if apiErr := resp.apiError(); apiErr.Restricted() {
			c.mu.RLock()
			onRestricted := c.onRestricted
			c.mu.RUnlock()
			c.log.Warn("api reported account restricted", "path", path)
			if onRestricted != nil {
				onRestricted(apiErr.Message)
			}
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, header http.Header, route string) (*Response, error) {
	ref, err := url.Parse(path)
	if err != nil || ref.IsAbs() || ref.Host != "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: create request: %w", err)
	}
	for _, name := range forwardedHeaders {
		if v := header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		observability.UpstreamRequests.WithLabelValues(route, "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s %s: %v", session.ErrNetwork, method, path, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", session.ErrNetwork, method, path, err)
	}
	observability.UpstreamRequests.WithLabelValues(route, strconv.Itoa(res.StatusCode/100)+"xx").Observe(time.Since(start).Seconds())
	c.log.Debug("api request", "method", method, "path", path, "status", res.StatusCode, "request_id", req.Header.Get(RequestIDHeader))

	return &Response{Status: res.StatusCode, Header: res.Header.Clone(), Body: b}, nil
}
