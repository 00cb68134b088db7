package devapi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StatusActive    = "active"
	StatusPending   = "pending"
	StatusSuspended = "suspended"
)

// PermissionEntry is one entry of a user's permissions list. Older
// accounts carry bare tokens; newer ones carry descriptor records. Both
// shapes are served as they were seeded.
type PermissionEntry struct {
	Name        string
	Description string
	Bare        bool
}

func (p PermissionEntry) MarshalJSON() ([]byte, error) {
	if p.Bare {
		return json.Marshal(p.Name)
	}
	return json.Marshal(struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}{p.Name, p.Description})
}

func (p *PermissionEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		p.Name = strings.TrimSpace(node.Value)
		p.Bare = true
		return nil
	case yaml.MappingNode:
		var record struct {
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		if err := node.Decode(&record); err != nil {
			return err
		}
		p.Name = strings.TrimSpace(record.Name)
		p.Description = record.Description
		return nil
	}
	return fmt.Errorf("line %d: permission must be a token or a {name} record", node.Line)
}

type User struct {
	ID              string
	Name            string
	Email           string
	PasswordHash    string
	Role            string
	PermissionNames []string
	Permissions     []PermissionEntry
	Verified        bool
	Status          string
	StatusReason    string
	AvatarURL       string
	CreatedAt       time.Time
}

// UserView is the identity payload the API returns under "user".
type UserView struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Email           string            `json:"email"`
	Role            string            `json:"role"`
	PermissionNames []string          `json:"permissionNames,omitempty"`
	Permissions     []PermissionEntry `json:"permissions,omitempty"`
	Verified        bool              `json:"verified"`
	CreatedAt       time.Time         `json:"createdAt"`
	AvatarURL       string            `json:"avatarUrl,omitempty"`
}

func (u User) View() UserView {
	return UserView{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		Role:            u.Role,
		PermissionNames: append([]string(nil), u.PermissionNames...),
		Permissions:     append([]PermissionEntry(nil), u.Permissions...),
		Verified:        u.Verified,
		CreatedAt:       u.CreatedAt,
		AvatarURL:       u.AvatarURL,
	}
}

// Tokens is a freshly issued credential pair.
type Tokens struct {
	IssuedAt         time.Time
	Access           string
	AccessExpiresAt  time.Time
	Refresh          string
	RefreshExpiresAt time.Time
}
