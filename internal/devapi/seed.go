package devapi

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

//go:embed default_users.yaml
var defaultSeed []byte

type seedFile struct {
	Users []seedUser `yaml:"users"`
}

type seedUser struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Email           string            `yaml:"email"`
	Password        string            `yaml:"password"`
	PasswordHash    string            `yaml:"password_hash"`
	Role            string            `yaml:"role"`
	PermissionNames []string          `yaml:"permission_names"`
	Permissions     []PermissionEntry `yaml:"permissions"`
	Verified        bool              `yaml:"verified"`
	Status          string            `yaml:"status"`
	AvatarURL       string            `yaml:"avatar_url"`
	CreatedAt       time.Time         `yaml:"created_at"`
}

// LoadSeed reads users from a YAML file. An empty path loads the built-in
// development accounts.
func LoadSeed(path string, hashCost int) ([]User, error) {
	if strings.TrimSpace(path) == "" {
		return ParseSeed(defaultSeed, hashCost)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data, hashCost)
}

func ParseSeed(data []byte, hashCost int) ([]User, error) {
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}

	users := make([]User, 0, len(sf.Users))
	for i, su := range sf.Users {
		if su.ID == "" || su.Email == "" || su.Role == "" {
			return nil, fmt.Errorf("seed user %d: id, email and role are required", i)
		}
		hash := su.PasswordHash
		if hash == "" {
			if su.Password == "" {
				return nil, fmt.Errorf("seed user %s: password or password_hash is required", su.ID)
			}
			b, err := bcrypt.GenerateFromPassword([]byte(su.Password), hashCost)
			if err != nil {
				return nil, fmt.Errorf("seed user %s: hash password: %w", su.ID, err)
			}
			hash = string(b)
		}
		status := su.Status
		if status == "" {
			status = StatusActive
		}
		created := su.CreatedAt
		if created.IsZero() {
			created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		users = append(users, User{
			ID:              su.ID,
			Name:            su.Name,
			Email:           su.Email,
			PasswordHash:    hash,
			Role:            su.Role,
			PermissionNames: su.PermissionNames,
			Permissions:     su.Permissions,
			Verified:        su.Verified,
			Status:          status,
			AvatarURL:       su.AvatarURL,
			CreatedAt:       created,
		})
	}
	return users, nil
}

func SeedUsers(store UserStore, users []User) error {
	for _, u := range users {
		if err := store.Put(u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return nil
}
