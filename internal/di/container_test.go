package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ctxstore/internal/config"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	c := &Container{}
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		c.addShutdown(func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestShutdownCollectsAllErrors(t *testing.T) {
	c := &Container{}
	c.addShutdown(func(context.Context) error { return errors.New("graph close failed") })
	c.addShutdown(func(context.Context) error { return nil })
	c.addShutdown(func(context.Context) error { return errors.New("kv close failed") })

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph close failed")
	assert.Contains(t, err.Error(), "kv close failed")

	// A second shutdown is a no-op.
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestNewContainerReportsUnreachableBackends(t *testing.T) {
	if testing.Short() {
		t.Skip("dials dead ports with retry backoff")
	}

	cfg := config.Default()
	cfg.Storage.Vector.DSN = "postgres://127.0.0.1:1/none?sslmode=disable"
	cfg.Storage.Graph.URI = "bolt://127.0.0.1:1"
	cfg.Storage.KV.Addr = "127.0.0.1:1"
	cfg.Storage.StartupGrace = config.Duration(50 * time.Millisecond)

	_, err := NewContainer(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendsUnreachable)
}

func TestNewContainerRejectsBadVectorTable(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Vector.Table = "contexts; drop table users"

	_, err := NewContainer(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBackendsUnreachable)
	assert.Contains(t, err.Error(), "vector store")
}
