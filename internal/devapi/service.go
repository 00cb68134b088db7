package devapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrAccountRestricted  = errors.New("account restricted")
	ErrAccountPending     = errors.New("account pending approval")
	ErrWeakPassword       = errors.New("weak password")
	ErrInvalidInput       = errors.New("invalid input")
)

const (
	issuer                    = "storeadmin-devapi"
	minPasswordLength         = 12
	maxPasswordLength         = 128
	defaultRegisterRole       = "moderator"
	defaultRestrictionMessage = "Account suspended by an administrator"
)

type ServiceConfig struct {
	Secret       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	AutoApprove  bool
	RegisterRole string
	HashCost     int
}

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type refreshSession struct {
	UserID    string
	ExpiresAt time.Time
}

// Service issues and checks credentials for the development API. Access
// credentials are short-lived JWTs; refresh credentials are opaque and
// rotate on every use.
type Service struct {
	users        UserStore
	secret       []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	autoApprove  bool
	registerRole string
	hashCost     int
	nowFunc      func() time.Time

	mu       sync.Mutex
	sessions map[string]refreshSession
}

func NewService(users UserStore, cfg ServiceConfig) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("token secret must be at least 16 bytes")
	}
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("access TTL must be > 0")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, fmt.Errorf("refresh TTL must exceed access TTL")
	}
	if cfg.RegisterRole == "" {
		cfg.RegisterRole = defaultRegisterRole
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	return &Service{
		users:        users,
		secret:       []byte(cfg.Secret),
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
		autoApprove:  cfg.AutoApprove,
		registerRole: strings.ToLower(cfg.RegisterRole),
		hashCost:     cfg.HashCost,
		nowFunc:      time.Now,
		sessions:     make(map[string]refreshSession),
	}, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (s *Service) Login(email, password string) (User, Tokens, error) {
	u, err := s.users.GetByEmail(email)
	if err != nil {
		return User{}, Tokens{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, Tokens{}, ErrInvalidCredentials
	}
	if err := checkStatus(u); err != nil {
		return u, Tokens{}, err
	}
	tokens, err := s.issue(u)
	if err != nil {
		return User{}, Tokens{}, err
	}
	return u, tokens, nil
}

// Authenticate resolves an access credential to its user.
func (s *Service) Authenticate(access string) (User, error) {
	if strings.TrimSpace(access) == "" {
		return User{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(access, &accessClaims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.nowFunc),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return User{}, ErrTokenExpired
		}
		return User{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return User{}, ErrInvalidToken
	}
	u, err := s.users.GetByID(claims.Subject)
	if err != nil {
		return User{}, ErrInvalidToken
	}
	if err := checkStatus(u); err != nil {
		return u, err
	}
	return u, nil
}

// Refresh exchanges a refresh credential for a new pair. The presented
// refresh credential is consumed whether or not the exchange succeeds.
func (s *Service) Refresh(refresh string) (User, Tokens, error) {
	s.mu.Lock()
	rs, ok := s.sessions[refresh]
	delete(s.sessions, refresh)
	s.mu.Unlock()

	if !ok || s.nowFunc().After(rs.ExpiresAt) {
		return User{}, Tokens{}, ErrInvalidToken
	}
	u, err := s.users.GetByID(rs.UserID)
	if err != nil {
		return User{}, Tokens{}, ErrInvalidToken
	}
	if err := checkStatus(u); err != nil {
		return u, Tokens{}, err
	}
	tokens, err := s.issue(u)
	if err != nil {
		return User{}, Tokens{}, err
	}
	return u, tokens, nil
}

// Logout forgets the refresh credential. Unknown credentials are ignored.
func (s *Service) Logout(refresh string) {
	s.mu.Lock()
	delete(s.sessions, refresh)
	s.mu.Unlock()
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account. Unless auto-approval is on, the account
// is pending and no credentials are issued.
func (s *Service) Register(in RegisterInput) (User, *Tokens, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" || in.Email == "" {
		return User{}, nil, fmt.Errorf("%w: name and email are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return User{}, nil, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if err := validatePasswordPolicy(in.Password); err != nil {
		return User{}, nil, err
	}
	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return User{}, nil, err
	}

	u := User{
		ID:           "usr-" + strings.ToLower(ulid.Make().String()),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         s.registerRole,
		Status:       StatusPending,
		CreatedAt:    s.nowFunc().UTC(),
	}
	if s.autoApprove {
		u.Status = StatusActive
	}
	if err := s.users.Put(u); err != nil {
		return User{}, nil, err
	}
	if u.Status != StatusActive {
		return u, nil, nil
	}
	tokens, err := s.issue(u)
	if err != nil {
		return User{}, nil, err
	}
	return u, &tokens, nil
}

// SetStatus changes an account's status. Suspending an account revokes
// its refresh credentials.
func (s *Service) SetStatus(userID, status, reason string) (User, error) {
	switch status {
	case StatusActive, StatusPending, StatusSuspended:
	default:
		return User{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	u, err := s.users.GetByID(userID)
	if err != nil {
		return User{}, err
	}
	u.Status = status
	u.StatusReason = strings.TrimSpace(reason)
	if err := s.users.Put(u); err != nil {
		return User{}, err
	}
	if status == StatusSuspended {
		s.mu.Lock()
		for token, rs := range s.sessions {
			if rs.UserID == userID {
				delete(s.sessions, token)
			}
		}
		s.mu.Unlock()
	}
	return u, nil
}

// RestrictionMessage is the reason shown to a suspended account.
func RestrictionMessage(u User) string {
	if u.StatusReason != "" {
		return u.StatusReason
	}
	return defaultRestrictionMessage
}

func checkStatus(u User) error {
	switch u.Status {
	case StatusSuspended:
		return ErrAccountRestricted
	case StatusPending:
		return ErrAccountPending
	}
	return nil
}

func (s *Service) issue(u User) (Tokens, error) {
	now := s.nowFunc()
	claims := accessClaims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Tokens{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := generateToken(32)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate refresh token: %w", err)
	}
	t := Tokens{
		IssuedAt:         now,
		Access:           access,
		AccessExpiresAt:  now.Add(s.accessTTL),
		Refresh:          refresh,
		RefreshExpiresAt: now.Add(s.refreshTTL),
	}

	s.mu.Lock()
	s.sessions[refresh] = refreshSession{UserID: u.ID, ExpiresAt: t.RefreshExpiresAt}
	s.mu.Unlock()
	return t, nil
}

func validatePasswordPolicy(password string) error {
	if strings.TrimSpace(password) != password {
		return ErrWeakPassword
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return ErrWeakPassword
	}
	return nil
}

func generateToken(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("token length too short")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
