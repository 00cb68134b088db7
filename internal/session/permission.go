package session

import (
	"fmt"
	"strings"
)

// HasPermission decides whether an account may perform the requested
// capability. First match wins:
//
//  1. super_admin is always allowed
//  2. requested is listed in names
//  3. requested is listed in perms
//  4. admin with no permission data at all is allowed (accounts that
//     predate fine-grained permissions)
//
// Explicit permission data always beats the admin fallback.
func HasPermission(role Role, names []string, perms []Permission, requested string) bool {
	if role.Is(RoleSuperAdmin) {
		return true
	}
	for _, n := range names {
		if n == requested {
			return true
		}
	}
	for _, p := range perms {
		if p.Token == requested {
			return true
		}
	}
	return role.Is(RoleAdmin) && len(names) == 0 && len(perms) == 0
}

// ParseCapability splits a "{subject}.{action}" token.
func ParseCapability(token string) (subject, action string, err error) {
	subject, action, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || subject == "" || action == "" || strings.ContainsAny(token, " /") {
		return "", "", fmt.Errorf("invalid capability token %q", token)
	}
	return subject, action, nil
}
