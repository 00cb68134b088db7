package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is one of the closed set of account roles. Values are kept lower
// case; comparisons are case-insensitive.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleModerator  Role = "moderator"
	RoleInspector  Role = "inspector"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var knownRoles = []Role{RoleCustomer, RoleModerator, RoleInspector, RoleAdmin, RoleSuperAdmin}

func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

func (r Role) Is(other Role) bool {
	return strings.EqualFold(string(r), string(other))
}

// Known reports whether r is part of the role enumeration.
func (r Role) Known() bool {
	for _, k := range knownRoles {
		if r.Is(k) {
			return true
		}
	}
	return false
}

// Staff reports whether the role may enter the dashboard at all.
func (r Role) Staff() bool {
	return r != "" && !r.Is(RoleCustomer)
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode role: %w", err)
	}
	*r = ParseRole(s)
	return nil
}

// Permission is a normalized permissions entry. The API sends either a
// bare token or a descriptor record with a name field; both decode here.
type Permission struct {
	Token string
}

func (p *Permission) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var token string
		if err := json.Unmarshal(b, &token); err != nil {
			return fmt.Errorf("decode permission token: %w", err)
		}
		p.Token = strings.TrimSpace(token)
		return nil
	}
	var record struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &record); err != nil {
		return fmt.Errorf("decode permission record: %w", err)
	}
	p.Token = strings.TrimSpace(record.Name)
	return nil
}

func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name string `json:"name"`
	}{Name: p.Token})
}

// Identity is the signed-in account as reported by the API. Values held
// by the Store are never mutated; a new Identity replaces the old one.
type Identity struct {
	ID              string       `json:"id"`
	DisplayName     string       `json:"name"`
	Email           string       `json:"email"`
	Role            Role         `json:"role"`
	PermissionNames []string     `json:"permissionNames,omitempty"`
	Permissions     []Permission `json:"permissions,omitempty"`
	Verified        bool         `json:"verified"`
	CreatedAt       time.Time    `json:"createdAt"`
	AvatarURL       string       `json:"avatarUrl,omitempty"`
}

// Can reports whether the identity holds the capability token.
func (i *Identity) Can(token string) bool {
	if i == nil {
		return false
	}
	return HasPermission(i.Role, i.PermissionNames, i.Permissions, token)
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.PermissionNames = append([]string(nil), i.PermissionNames...)
	c.Permissions = append([]Permission(nil), i.Permissions...)
	return &c
}

// Session is a snapshot of the Store.
type Session struct {
	Identity     *Identity
	Initializing bool
	// Restriction holds the reason the session was force-ended, until a
	// new identity is set.
	Restriction string
}

func (s Session) Authenticated() bool {
	return s.Identity != nil
}
