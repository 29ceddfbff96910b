// Package namespace implements path-shaped namespaces and the lease-based
// lock manager over the KV backend. Namespaces partition contexts by scope;
// locks serialize write-chains within one namespace, with KV expiry as the
// sole correctness mechanism.
package namespace

import (
	"fmt"
	"regexp"
	"strings"

	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
)

// Scope is the namespace class.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
	ScopeTeam    Scope = "team"
	ScopeUser    Scope = "user"
)

// idPattern restricts scope ids to path-safe tokens.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Namespace is a parsed path: /global/, /project/{id}/, /team/{id}/, or
// /user/{id}/.
type Namespace struct {
	Scope Scope
	ID    string
}

// Path renders the canonical path form with both slashes.
func (n Namespace) Path() string {
	if n.Scope == ScopeGlobal {
		return "/global/"
	}
	return fmt.Sprintf("/%s/%s/", n.Scope, n.ID)
}

// Global is the shared namespace.
var Global = Namespace{Scope: ScopeGlobal}

// Parse validates a namespace path and returns its structured form. The
// trailing slash is optional; everything else is strict.
func Parse(path string) (Namespace, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(path), "/")
	if !strings.HasPrefix(trimmed, "/") {
		return Namespace{}, apperrors.NewValidationf("namespace %q must start with /", path)
	}
	parts := strings.Split(trimmed[1:], "/")

	switch {
	case len(parts) == 1 && parts[0] == string(ScopeGlobal):
		return Global, nil
	case len(parts) == 2:
		scope := Scope(parts[0])
		switch scope {
		case ScopeProject, ScopeTeam, ScopeUser:
		default:
			return Namespace{}, apperrors.NewValidationf("unknown namespace scope %q", parts[0])
		}
		if !idPattern.MatchString(parts[1]) {
			return Namespace{}, apperrors.NewValidationf("invalid namespace id %q", parts[1])
		}
		return Namespace{Scope: scope, ID: parts[1]}, nil
	default:
		return Namespace{}, apperrors.NewValidationf("malformed namespace %q", path)
	}
}

// Assign derives the namespace from content markers with fixed precedence:
// project over team over user, global when none apply. Markers with
// path-unsafe ids are ignored rather than rejected, since assignment must
// not fail a write.
func Assign(content map[string]any) Namespace {
	if id, ok := marker(content, domain.ContentKeyProjectID); ok {
		return Namespace{Scope: ScopeProject, ID: id}
	}
	if id, ok := marker(content, domain.ContentKeyTeamID); ok {
		return Namespace{Scope: ScopeTeam, ID: id}
	}
	if id, ok := marker(content, domain.ContentKeyUserID); ok {
		return Namespace{Scope: ScopeUser, ID: id}
	}
	return Global
}

func marker(content map[string]any, key string) (string, bool) {
	if content == nil {
		return "", false
	}
	s, ok := content[key].(string)
	if !ok || !idPattern.MatchString(s) {
		return "", false
	}
	return s, true
}
