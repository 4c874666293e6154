// Package model defines the domain types shared across the service.
package model

import (
	"fmt"
	"strings"
)

// Scope is the isolation boundary for indexed content: the shared global
// collection or one user's personal collection.
type Scope string

// GlobalScope is the shared knowledge scope.
const GlobalScope Scope = "global"

const userScopePrefix = "user:"

// UserScope returns the personal scope for the given user identifier.
func UserScope(userID string) Scope {
	return Scope(userScopePrefix + userID)
}

// ParseScope normalizes a caller-supplied scope string. Empty means global.
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == string(GlobalScope) {
		return GlobalScope, nil
	}
	if strings.HasPrefix(s, userScopePrefix) && len(s) > len(userScopePrefix) {
		return Scope(s), nil
	}
	return "", fmt.Errorf("invalid scope %q: want \"global\" or \"user:<id>\"", s)
}

// IsGlobal reports whether the scope is the shared collection.
func (s Scope) IsGlobal() bool {
	return s == GlobalScope
}

// UserID returns the user identifier for a personal scope, or "" for global.
func (s Scope) UserID() string {
	if s.IsGlobal() {
		return ""
	}
	return strings.TrimPrefix(string(s), userScopePrefix)
}

// CollectionName maps the scope to its vector collection name under the
// given prefix. Elasticsearch index names must be lowercase, so bytes
// outside [a-z0-9] are hex-escaped as "_xx". The escape covers "_" itself,
// which keeps the mapping injective: distinct scopes (including ids that
// differ only in case) never share a collection.
func (s Scope) CollectionName(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 1 + len(s))
	b.WriteString(prefix)
	b.WriteByte('_')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "_%02x", c)
	}
	return b.String()
}

func (s Scope) String() string {
	return string(s)
}
