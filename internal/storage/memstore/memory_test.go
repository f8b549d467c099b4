package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limitpaste/internal/storage"
	"limitpaste/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		s, err := New(0)
		require.NoError(t, err)
		return s
	})
}

func TestFullStoreKeepsLivePastes(t *testing.T) {
	s, err := New(1)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now()

	a, err := s.Create(ctx, storage.NewPaste{Content: "a", CreatedAt: now})
	require.NoError(t, err)

	_, err = s.Create(ctx, storage.NewPaste{Content: "b", CreatedAt: now})
	assert.ErrorIs(t, err, ErrFull)

	got, err := s.ConsumeView(ctx, a.ID, now)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Content)
	assert.Equal(t, 1, s.pastes.Len())
}

func TestFullStoreEvictsConsumedPaste(t *testing.T) {
	s, err := New(2)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now()

	once, err := s.Create(ctx, storage.NewPaste{Content: "once", MaxViews: 1, CreatedAt: now})
	require.NoError(t, err)
	live, err := s.Create(ctx, storage.NewPaste{Content: "live", CreatedAt: now})
	require.NoError(t, err)
	_, err = s.ConsumeView(ctx, once.ID, now)
	require.NoError(t, err)

	_, err = s.Create(ctx, storage.NewPaste{Content: "new", CreatedAt: now})
	require.NoError(t, err)

	_, err = s.Get(ctx, once.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.ConsumeView(ctx, live.ID, now)
	assert.NoError(t, err)
}

func TestFullStoreEvictsExpiredPaste(t *testing.T) {
	s, err := New(1)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now()

	old, err := s.Create(ctx, storage.NewPaste{Content: "old", TTL: time.Second, CreatedAt: now})
	require.NoError(t, err)

	_, err = s.Create(ctx, storage.NewPaste{Content: "early", CreatedAt: now.Add(500 * time.Millisecond)})
	require.ErrorIs(t, err, ErrFull)

	fresh, err := s.Create(ctx, storage.NewPaste{Content: "fresh", CreatedAt: now.Add(2 * time.Second)})
	require.NoError(t, err)

	_, err = s.Get(ctx, old.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	p, err := s.Create(context.Background(), storage.NewPaste{Content: "orig", CreatedAt: time.Now()})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	got.Content = "mutated"
	got.ViewCount = 99

	again, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Content)
	assert.Zero(t, again.ViewCount)
}
