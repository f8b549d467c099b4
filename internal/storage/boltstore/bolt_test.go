package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limitpaste/internal/storage"
	"limitpaste/internal/storage/storetest"
)

func openTemp(t *testing.T) storage.Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, openTemp)
}

func TestReopenKeepsViewCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := Open(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	p, err := store.Create(context.Background(), storage.NewPaste{Content: "durable", MaxViews: 2, CreatedAt: now})
	require.NoError(t, err)
	_, err = store.ConsumeView(context.Background(), p.ID, now)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	got, err := store.ConsumeView(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ViewCount)

	_, err = store.ConsumeView(context.Background(), p.ID, now)
	assert.ErrorIs(t, err, storage.ErrNotAvailable)
}

func TestCancelledContext(t *testing.T) {
	store := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ConsumeView(ctx, "abcdefghijkl", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
