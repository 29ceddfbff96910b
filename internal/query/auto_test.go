package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutoSelect(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "filters only",
			req:  Request{Text: ""},
			want: []string{"graph", "kv"},
		},
		{
			name: "uuid mention",
			req:  Request{Text: "status of 2b1c0a9e-4f3d-4e2a-9d58-1c2b3a4d5e6f"},
			want: []string{"vector", "graph", "text"},
		},
		{
			name: "pr reference",
			req:  Request{Text: "did we merge PR #42 into the release branch yet"},
			want: []string{"vector", "graph", "text"},
		},
		{
			name: "file path",
			req:  Request{Text: "who owns /internal/auth/keys.go these days"},
			want: []string{"vector", "graph", "text"},
		},
		{
			name: "interrogative",
			req:  Request{Text: "what is the person's name"},
			want: []string{"vector", "text", "kv"},
		},
		{
			name: "short fact query",
			req:  Request{Text: "redis cluster config"},
			want: []string{"vector", "text", "kv"},
		},
		{
			name: "long statement",
			req:  Request{Text: "retrospective notes about the migration rollout and the lessons the team captured"},
			want: []string{"vector", "graph", "text", "kv"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, autoSelect(tc.req))
		})
	}
}
