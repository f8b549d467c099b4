package id

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsValid(t *testing.T) {
	g := New(0)
	for i := 0; i < 50; i++ {
		id, err := g.Generate(context.Background())
		require.NoError(t, err)
		assert.Len(t, id, defaultLength)
		assert.True(t, g.Valid(id), id)
	}
}

func TestValidRejectsMalformed(t *testing.T) {
	g := New(12)
	for _, s := range []string{"", "short", "abcdefghijk!", "abcdefghijklm", "../../etc/pa", "abc def ghij"} {
		assert.False(t, g.Valid(s), s)
	}
}

func TestGenerateHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(8).Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInsertRetriesOnCollision(t *testing.T) {
	calls := 0
	id, err := New(8).Insert(context.Background(), func(string) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Len(t, id, 8)
	assert.Equal(t, 3, calls)
}

func TestInsertGivesUp(t *testing.T) {
	_, err := New(8).Insert(context.Background(), func(string) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestInsertPropagatesStoreError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(8).Insert(context.Background(), func(string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}
