package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "ctxstore/internal/errors"
)

func newTestServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embedResponse{Data: make([]embedItem, len(req.Input))}
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(i + 1)
			resp.Data[i] = embedItem{Index: i, Embedding: vec}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestEmbed(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	vec, err := svc.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	vecs, err := svc.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])

	empty, err := svc.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	_, err := svc.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "configured 4")
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	_, err := svc.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
}

func TestEmbedConnectionRefused(t *testing.T) {
	srv := newTestServer(t, 4)
	srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	_, err := svc.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
}

func TestSelfTest(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	assert.False(t, svc.Ready())

	st := svc.SelfTest(context.Background())
	assert.True(t, st.BackendConnected)
	assert.True(t, st.ServiceLoaded)
	assert.True(t, st.SelfTestOK)
	assert.Empty(t, st.Error)
	assert.True(t, svc.Ready())
}

func TestSelfTestDimensionMismatch(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	st := svc.SelfTest(context.Background())
	assert.True(t, st.BackendConnected)
	assert.False(t, st.SelfTestOK)
	assert.NotEmpty(t, st.Error)
	assert.False(t, svc.Ready())
}

func TestSelfTestUnreachableBackend(t *testing.T) {
	srv := newTestServer(t, 4)
	srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	st := svc.SelfTest(context.Background())
	assert.False(t, st.BackendConnected)
	assert.False(t, st.ServiceLoaded)
	assert.False(t, st.SelfTestOK)
	assert.NotEmpty(t, st.Error)
}

func TestSetCollectionOK(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	svc := New(srv.URL, "test-model", 4, time.Second, zap.NewNop())
	svc.SelfTest(context.Background())

	svc.SetCollectionOK(true, "")
	st := svc.Status()
	assert.True(t, st.CollectionOK)
	assert.True(t, st.SelfTestOK)

	svc.SetCollectionOK(false, "dimension mismatch: collection holds 384")
	st = svc.Status()
	assert.False(t, st.CollectionOK)
	assert.Contains(t, st.Error, "384")

	next := svc.SelfTest(context.Background())
	assert.False(t, next.CollectionOK)
}
