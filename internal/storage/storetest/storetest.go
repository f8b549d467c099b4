// Package storetest holds the behavioural contract every storage.Store must satisfy.
// Engine packages call Run from their own tests.
package storetest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"limitpaste/internal/storage"
)

// Factory opens a fresh, empty store. Cleanup is the factory's responsibility.
type Factory func(t *testing.T) storage.Store

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Run executes the full contract against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("CreateAssignsID", func(t *testing.T) { testCreateAssignsID(t, open(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, open(t)) })
	t.Run("ConsumeUnknownOrMalformed", func(t *testing.T) { testConsumeUnknown(t, open(t)) })
	t.Run("Unrestricted", func(t *testing.T) { testUnrestricted(t, open(t)) })
	t.Run("ViewLimitBoundary", func(t *testing.T) { testViewLimitBoundary(t, open(t)) })
	t.Run("TTLBoundary", func(t *testing.T) { testTTLBoundary(t, open(t)) })
	t.Run("NoSideEffectOnFailure", func(t *testing.T) { testNoSideEffect(t, open(t)) })
	t.Run("ContentUntouched", func(t *testing.T) { testContentUntouched(t, open(t)) })
	t.Run("HelloScenario", func(t *testing.T) { testHelloScenario(t, open(t)) })
	t.Run("ConcurrentSingleView", func(t *testing.T) { testConcurrentSingleView(t, open(t)) })
	t.Run("ConcurrentViewLimit", func(t *testing.T) { testConcurrentViewLimit(t, open(t)) })
	t.Run("Independence", func(t *testing.T) { testIndependence(t, open(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, open(t).Ping(context.Background())) })
}

func create(t *testing.T, s storage.Store, n storage.NewPaste) *storage.Paste {
	t.Helper()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = epoch
	}
	p, err := s.Create(context.Background(), n)
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	return p
}

func testCreateAssignsID(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := create(t, s, storage.NewPaste{Content: "one", TTL: time.Hour, MaxViews: 2, PassphraseHash: "$argon2id$x"})
	b := create(t, s, storage.NewPaste{Content: "two"})
	assert.NotEqual(t, a.ID, b.ID)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Content)
	assert.True(t, epoch.Equal(got.CreatedAt))
	assert.True(t, epoch.Add(time.Hour).Equal(got.ExpiresAt))
	assert.Equal(t, 2, got.MaxViews)
	assert.Zero(t, got.ViewCount)
	assert.Equal(t, "$argon2id$x", got.PassphraseHash)

	got, err = s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.HasExpiration())
	assert.False(t, got.HasViewLimit())
	assert.Empty(t, got.PassphraseHash)
}

func testGetUnknown(t *testing.T, s storage.Store) {
	create(t, s, storage.NewPaste{Content: "present"})
	for _, id := range []string{"", "does-not-exist", "zzzzzzzzzzzz", "!!", "507f1f77bcf86cd799439011"} {
		_, err := s.Get(context.Background(), id)
		assert.ErrorIs(t, err, storage.ErrNotFound, id)
	}
}

func testConsumeUnknown(t *testing.T, s storage.Store) {
	create(t, s, storage.NewPaste{Content: "present"})
	for _, id := range []string{"", "does-not-exist", "zzzzzzzzzzzz", "!!", "507f1f77bcf86cd799439011"} {
		_, err := s.ConsumeView(context.Background(), id, epoch)
		assert.ErrorIs(t, err, storage.ErrNotAvailable, id)
	}
}

func testUnrestricted(t *testing.T, s storage.Store) {
	p := create(t, s, storage.NewPaste{Content: "forever"})
	far := epoch.Add(50 * 365 * 24 * time.Hour)
	for i := 1; i <= 25; i++ {
		got, err := s.ConsumeView(context.Background(), p.ID, far)
		require.NoError(t, err)
		assert.Equal(t, i, got.ViewCount)
		res := storage.ResultOf(got)
		assert.Nil(t, res.RemainingViews)
		assert.Nil(t, res.ExpiresAt)
	}
}

func testViewLimitBoundary(t *testing.T, s storage.Store) {
	p := create(t, s, storage.NewPaste{Content: "limited", MaxViews: 3})
	for _, want := range []int{2, 1, 0} {
		got, err := s.ConsumeView(context.Background(), p.ID, epoch)
		require.NoError(t, err)
		res := storage.ResultOf(got)
		require.NotNil(t, res.RemainingViews)
		assert.Equal(t, want, *res.RemainingViews)
	}
	_, err := s.ConsumeView(context.Background(), p.ID, epoch)
	assert.ErrorIs(t, err, storage.ErrNotAvailable)
}

func testTTLBoundary(t *testing.T, s storage.Store) {
	p := create(t, s, storage.NewPaste{Content: "ttl", TTL: 60 * time.Second})

	got, err := s.ConsumeView(context.Background(), p.ID, epoch.Add(59999*time.Millisecond))
	require.NoError(t, err)
	res := storage.ResultOf(got)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, epoch.Add(time.Minute).Equal(*res.ExpiresAt))

	_, err = s.ConsumeView(context.Background(), p.ID, epoch.Add(60000*time.Millisecond))
	assert.ErrorIs(t, err, storage.ErrNotAvailable)
}

func testNoSideEffect(t *testing.T, s storage.Store) {
	ctx := context.Background()
	exhausted := create(t, s, storage.NewPaste{Content: "once", MaxViews: 1})
	_, err := s.ConsumeView(ctx, exhausted.ID, epoch)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.ConsumeView(ctx, exhausted.ID, epoch)
		require.ErrorIs(t, err, storage.ErrNotAvailable)
	}
	got, err := s.Get(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ViewCount)

	expired := create(t, s, storage.NewPaste{Content: "gone", TTL: time.Second, MaxViews: 10})
	_, err = s.ConsumeView(ctx, expired.ID, epoch.Add(time.Hour))
	require.ErrorIs(t, err, storage.ErrNotAvailable)
	got, err = s.Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ViewCount)
}

func testContentUntouched(t *testing.T, s storage.Store) {
	content := "  <script>alert('x')</script>\n\ttabs & \"quotes\" ünïcødé 🚀\r\n"
	p := create(t, s, storage.NewPaste{Content: content})
	got, err := s.ConsumeView(context.Background(), p.ID, epoch)
	require.NoError(t, err)
	assert.Equal(t, content, got.Content)
}

func testHelloScenario(t *testing.T, s storage.Store) {
	p := create(t, s, storage.NewPaste{Content: "hello", MaxViews: 2})
	for _, want := range []int{1, 0} {
		got, err := s.ConsumeView(context.Background(), p.ID, epoch)
		require.NoError(t, err)
		res := storage.ResultOf(got)
		assert.Equal(t, "hello", res.Content)
		require.NotNil(t, res.RemainingViews)
		assert.Equal(t, want, *res.RemainingViews)
	}
	_, err := s.ConsumeView(context.Background(), p.ID, epoch)
	assert.ErrorIs(t, err, storage.ErrNotAvailable)
}

// consumeConcurrently fires k ConsumeView calls at once and counts outcomes.
func consumeConcurrently(t *testing.T, s storage.Store, id string, k int) (ok, unavailable int64) {
	t.Helper()
	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < k; i++ {
		g.Go(func() error {
			<-start
			_, err := s.ConsumeView(context.Background(), id, epoch)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case assert.ErrorIs(t, err, storage.ErrNotAvailable):
				atomic.AddInt64(&unavailable, 1)
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	return ok, unavailable
}

func testConcurrentSingleView(t *testing.T, s storage.Store) {
	p := create(t, s, storage.NewPaste{Content: "burn", MaxViews: 1})
	ok, unavailable := consumeConcurrently(t, s, p.ID, 32)
	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, 31, unavailable)

	got, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ViewCount)
}

func testConcurrentViewLimit(t *testing.T, s storage.Store) {
	p := create(t, s, storage.NewPaste{Content: "five", MaxViews: 5})
	_, err := s.ConsumeView(context.Background(), p.ID, epoch)
	require.NoError(t, err)

	ok, unavailable := consumeConcurrently(t, s, p.ID, 40)
	assert.EqualValues(t, 4, ok)
	assert.EqualValues(t, 36, unavailable)

	got, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.ViewCount)
}

func testIndependence(t *testing.T, s storage.Store) {
	a := create(t, s, storage.NewPaste{Content: "a", MaxViews: 2})
	b := create(t, s, storage.NewPaste{Content: "b", MaxViews: 7})

	var okA, okB int64
	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		id, counter := a.ID, &okA
		if i%2 == 1 {
			id, counter = b.ID, &okB
		}
		g.Go(func() error {
			<-start
			if _, err := s.ConsumeView(context.Background(), id, epoch); err == nil {
				atomic.AddInt64(counter, 1)
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 2, okA)
	assert.EqualValues(t, 7, okB)
}
