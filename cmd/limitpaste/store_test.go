package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limitpaste/internal/config"
	"limitpaste/internal/storage"
)

func TestOpenStoreEmbeddedDrivers(t *testing.T) {
	for _, driver := range []string{config.DriverBolt, config.DriverSQLite, config.DriverMemory} {
		t.Run(driver, func(t *testing.T) {
			store, err := openStore(context.Background(), config.StoreConfig{
				Driver:  driver,
				Path:    filepath.Join(t.TempDir(), "paste.db"),
				Timeout: time.Second,
			})
			require.NoError(t, err)
			defer store.Close()

			ctx := context.Background()
			p, err := store.Create(ctx, storage.NewPaste{Content: "hi", MaxViews: 1, CreatedAt: time.Now()})
			require.NoError(t, err)
			_, err = store.ConsumeView(ctx, p.ID, time.Now())
			require.NoError(t, err)
			_, err = store.ConsumeView(ctx, p.ID, time.Now())
			assert.ErrorIs(t, err, storage.ErrNotAvailable)
		})
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := openStore(context.Background(), config.StoreConfig{Driver: "etcd", Timeout: time.Second})
	assert.Error(t, err)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "addr", "store", "data", "max-bytes", "test-mode"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}
