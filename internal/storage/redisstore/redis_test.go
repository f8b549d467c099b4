package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limitpaste/internal/storage"
	"limitpaste/internal/storage/storetest"
)

func TestDecode(t *testing.T) {
	p, err := decode("abc", map[string]string{
		"content":         "hi",
		"created_at":      "1767322800000",
		"expires_at":      "1767322860000",
		"max_views":       "3",
		"view_count":      "1",
		"passphrase_hash": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", p.Content)
	assert.Equal(t, time.Minute, p.ExpiresAt.Sub(p.CreatedAt))
	assert.Equal(t, 3, p.MaxViews)
	assert.Equal(t, 1, p.ViewCount)

	p, err = decode("abc", map[string]string{"content": "x", "created_at": "1", "expires_at": "", "max_views": "", "view_count": "0"})
	require.NoError(t, err)
	assert.False(t, p.HasExpiration())
	assert.False(t, p.HasViewLimit())

	_, err = decode("abc", map[string]string{"created_at": "nope"})
	assert.Error(t, err)
}

// Set LIMITPASTE_TEST_REDIS_URL (e.g. redis://localhost:6379/15) to run.
// The database is flushed before each subtest.
func TestStoreContract(t *testing.T) {
	url := os.Getenv("LIMITPASTE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LIMITPASTE_TEST_REDIS_URL not set")
	}

	storetest.Run(t, func(t *testing.T) storage.Store {
		store, err := Open(context.Background(), Options{URL: url})
		require.NoError(t, err)
		require.NoError(t, store.client.FlushDB(context.Background()).Err())
		t.Cleanup(func() { store.Close() })
		return store
	})
}
