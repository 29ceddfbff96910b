package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ctxstore/internal/config"
	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
)

func newTestAuthenticator(t *testing.T, required bool) *Authenticator {
	t.Helper()
	return NewAuthenticator(config.AuthConfig{
		Required: required,
		Keys: []config.APIKey{
			{Key: "admin-key", Principal: "alice", Role: "admin"},
			{Key: "agent-key", Principal: "agent-7", Role: "writer", IsAgent: true},
			{Key: "reader-key", Principal: "bob", Role: "reader"},
		},
	}, zaptest.NewLogger(t))
}

func TestAuthenticateHeaderForms(t *testing.T) {
	a := newTestAuthenticator(t, true)

	r := httptest.NewRequest("POST", "/tools/store_context", nil)
	r.Header.Set("X-API-Key", "admin-key")
	p, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.Equal(t, RoleAdmin, p.Role)

	r = httptest.NewRequest("POST", "/tools/store_context", nil)
	r.Header.Set("Authorization", "Bearer agent-key")
	p, err = a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", p.ID)
	assert.True(t, p.IsAgent)
}

func TestAuthenticateMissingAndUnknownLookAlike(t *testing.T) {
	a := newTestAuthenticator(t, true)

	missing := httptest.NewRequest("GET", "/tools/retrieve_context", nil)
	_, errMissing := a.Authenticate(missing)
	require.Error(t, errMissing)
	assert.Equal(t, apperrors.KindAuthRequired, apperrors.KindOf(errMissing))

	unknown := httptest.NewRequest("GET", "/tools/retrieve_context", nil)
	unknown.Header.Set("X-API-Key", "no-such-key")
	_, errUnknown := a.Authenticate(unknown)
	require.Error(t, errUnknown)
	assert.Equal(t, apperrors.KindAuthRequired, apperrors.KindOf(errUnknown))

	// Identical errors keep key existence unguessable.
	assert.Equal(t, errMissing.Error(), errUnknown.Error())
}

func TestAuthenticateOptional(t *testing.T) {
	a := newTestAuthenticator(t, false)

	r := httptest.NewRequest("GET", "/health", nil)
	p, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", p.ID)
	assert.Equal(t, RoleAdmin, p.Role)
	assert.False(t, p.IsAgent)

	// A key presented anyway is still validated.
	r.Header.Set("X-API-Key", "bogus")
	_, err = a.Authenticate(r)
	assert.Error(t, err)
}

func TestRoleCapabilities(t *testing.T) {
	guest := Principal{ID: "g", Role: RoleGuest}
	reader := Principal{ID: "r", Role: RoleReader}
	writer := Principal{ID: "w", Role: RoleWriter}
	admin := Principal{ID: "a", Role: RoleAdmin}

	assert.NoError(t, guest.Can(OpHealth))
	assert.NoError(t, guest.Can(OpListTools))
	assert.Error(t, guest.Can(OpRetrieve))

	assert.NoError(t, reader.Can(OpRetrieve))
	assert.NoError(t, reader.Can(OpQueryGraph))
	assert.NoError(t, reader.Can(OpScratchpadRead))
	assert.Error(t, reader.Can(OpStore))

	assert.NoError(t, writer.Can(OpStore))
	assert.NoError(t, writer.Can(OpScratchpadWrite))
	assert.NoError(t, writer.Can(OpForget))
	assert.Error(t, writer.Can(OpDelete))
	assert.Error(t, writer.Can(OpQueryGraphWrite))

	assert.NoError(t, admin.Can(OpDelete))
	assert.NoError(t, admin.Can(OpQueryGraphWrite))
}

func TestAgentAdminCannotDelete(t *testing.T) {
	agent := Principal{ID: "agent-9", Role: RoleAdmin, IsAgent: true}

	err := agent.Can(OpDelete)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	// Everything else the role grants still works.
	assert.NoError(t, agent.Can(OpStore))
	assert.NoError(t, agent.Can(OpQueryGraphWrite))
}

func TestForbiddenKind(t *testing.T) {
	err := Principal{ID: "g", Role: RoleGuest}.Can(OpStore)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
}

func TestAttribute(t *testing.T) {
	t.Run("agent claims are overridden", func(t *testing.T) {
		author, atype := Attribute(Principal{ID: "agent-7", IsAgent: true}, "alice", domain.AuthorHuman)
		assert.Equal(t, "agent-7", author)
		assert.Equal(t, domain.AuthorAgent, atype)
	})

	t.Run("human defaults to self", func(t *testing.T) {
		author, atype := Attribute(Principal{ID: "alice"}, "", "")
		assert.Equal(t, "alice", author)
		assert.Equal(t, domain.AuthorHuman, atype)
	})

	t.Run("human explicit attribution kept", func(t *testing.T) {
		author, atype := Attribute(Principal{ID: "alice"}, "team-payments", domain.AuthorHuman)
		assert.Equal(t, "team-payments", author)
		assert.Equal(t, domain.AuthorHuman, atype)
	})

	t.Run("invalid author type normalized", func(t *testing.T) {
		_, atype := Attribute(Principal{ID: "alice"}, "alice", "robot")
		assert.Equal(t, domain.AuthorHuman, atype)
	})
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	p := Principal{ID: "alice", Role: RoleAdmin}

	ctx := WithPrincipal(r.Context(), p)
	got, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = PrincipalFrom(r.Context())
	assert.False(t, ok)
}
