// Package auth authenticates API keys and decides what each principal may
// do. Keys arrive via the X-API-Key header or an Authorization bearer token
// and map to a principal with a role; the role gates every tool operation.
package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ctxstore/internal/config"
	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
)

// Role orders principals by capability. Each role includes everything the
// roles below it may do.
type Role string

const (
	RoleGuest  Role = "guest"
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleWriter:
		return 2
	case RoleReader:
		return 1
	case RoleGuest:
		return 0
	}
	return -1
}

// Principal is an authenticated caller.
type Principal struct {
	ID      string
	Role    Role
	IsAgent bool
}

// Operation names one capability-gated action.
type Operation string

const (
	OpRetrieve        Operation = "retrieve_context"
	OpStore           Operation = "store_context"
	OpQueryGraph      Operation = "query_graph"
	OpQueryGraphWrite Operation = "query_graph_write"
	OpScratchpadWrite Operation = "update_scratchpad"
	OpScratchpadRead  Operation = "get_agent_state"
	OpForget          Operation = "forget_context"
	OpDelete          Operation = "delete_context"
	OpListTools       Operation = "list_tools"
	OpHealth          Operation = "health"
)

// minRole is the weakest role allowed to run each operation.
var minRole = map[Operation]Role{
	OpHealth:          RoleGuest,
	OpListTools:       RoleGuest,
	OpRetrieve:        RoleReader,
	OpQueryGraph:      RoleReader,
	OpScratchpadRead:  RoleReader,
	OpStore:           RoleWriter,
	OpScratchpadWrite: RoleWriter,
	OpForget:          RoleWriter,
	OpDelete:          RoleAdmin,
	OpQueryGraphWrite: RoleAdmin,
}

// MinRole returns the weakest role allowed to run op, for tool catalogs.
func MinRole(op Operation) Role {
	return minRole[op]
}

// Can reports whether the principal may run the operation. Hard deletion is
// additionally restricted to human credentials; an agent key never deletes,
// whatever its role.
func (p Principal) Can(op Operation) error {
	need, ok := minRole[op]
	if !ok {
		return apperrors.NewForbidden("unknown operation " + string(op))
	}
	if p.Role.rank() < need.rank() {
		return apperrors.NewForbidden(string(p.Role) + " role cannot " + string(op))
	}
	if op == OpDelete && p.IsAgent {
		return apperrors.NewForbidden("agent credentials cannot hard-delete context")
	}
	return nil
}

// Attribute resolves the author fields recorded on a write. Agent
// principals always store under their own id as agent authorship; claimed
// values are ignored. Human principals may attribute explicitly, defaulting
// to themselves.
func Attribute(p Principal, requestedAuthor string, requestedType domain.AuthorType) (string, domain.AuthorType) {
	if p.IsAgent {
		return p.ID, domain.AuthorAgent
	}
	author := strings.TrimSpace(requestedAuthor)
	if author == "" {
		author = p.ID
	}
	atype := requestedType
	if atype != domain.AuthorHuman && atype != domain.AuthorAgent {
		atype = domain.AuthorHuman
	}
	return author, atype
}

// Authenticator resolves API keys to principals.
type Authenticator struct {
	required bool
	keys     map[string]Principal
	logger   *zap.Logger
}

// NewAuthenticator builds the key registry from configuration. Key material
// never reaches the logs, only the principal names and roles do.
func NewAuthenticator(cfg config.AuthConfig, logger *zap.Logger) *Authenticator {
	keys := make(map[string]Principal, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		keys[k.Key] = Principal{ID: k.Principal, Role: Role(k.Role), IsAgent: k.IsAgent}
		logger.Info("api key registered",
			zap.String("principal", k.Principal),
			zap.String("role", k.Role),
			zap.Bool("is_agent", k.IsAgent))
	}
	return &Authenticator{required: cfg.Required, keys: keys, logger: logger}
}

// anonymous is the principal used when authentication is disabled.
var anonymous = Principal{ID: "anonymous", Role: RoleAdmin, IsAgent: false}

// Authenticate extracts the caller's key and resolves it. Missing and
// unknown keys fail identically so the response never confirms whether a
// key exists.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	key := apiKey(r)
	if key == "" {
		if !a.required {
			return anonymous, nil
		}
		return Principal{}, apperrors.NewAuthRequired("a valid api key is required")
	}
	p, ok := a.keys[key]
	if !ok {
		return Principal{}, apperrors.NewAuthRequired("a valid api key is required")
	}
	return p, nil
}

func apiKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal on the request context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom retrieves the principal set by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
