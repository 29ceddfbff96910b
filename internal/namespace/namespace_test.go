package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ctxstore/internal/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		path string
		want Namespace
		ok   bool
	}{
		{"global", "/global/", Global, true},
		{"global without trailing slash", "/global", Global, true},
		{"project", "/project/p1/", Namespace{Scope: ScopeProject, ID: "p1"}, true},
		{"team", "/team/t-9", Namespace{Scope: ScopeTeam, ID: "t-9"}, true},
		{"user with dot", "/user/u.1/", Namespace{Scope: ScopeUser, ID: "u.1"}, true},
		{"missing leading slash", "global/", Namespace{}, false},
		{"unknown scope", "/org/x/", Namespace{}, false},
		{"empty id", "/project//", Namespace{}, false},
		{"extra segment", "/project/a/b/", Namespace{}, false},
		{"traversal id", "/project/../", Namespace{}, false},
		{"empty", "", Namespace{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.path)
			if !tt.ok {
				require.Error(t, err)
				assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathIsCanonical(t *testing.T) {
	ns, err := Parse("/project/p1")
	require.NoError(t, err)
	assert.Equal(t, "/project/p1/", ns.Path())
	assert.Equal(t, "/global/", Global.Path())
}

func TestAssignPrecedence(t *testing.T) {
	all := map[string]any{
		"project_id": "p1",
		"team_id":    "t1",
		"user_id":    "u1",
	}
	assert.Equal(t, "/project/p1/", Assign(all).Path())

	delete(all, "project_id")
	assert.Equal(t, "/team/t1/", Assign(all).Path())

	delete(all, "team_id")
	assert.Equal(t, "/user/u1/", Assign(all).Path())

	delete(all, "user_id")
	assert.Equal(t, "/global/", Assign(all).Path())

	assert.Equal(t, "/global/", Assign(nil).Path())
}

func TestAssignSkipsUnsafeMarkers(t *testing.T) {
	content := map[string]any{
		"project_id": "../escape",
		"team_id":    "t1",
	}
	assert.Equal(t, "/team/t1/", Assign(content).Path())

	assert.Equal(t, "/global/", Assign(map[string]any{"project_id": 42}).Path())
}
