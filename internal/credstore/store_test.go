package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whatsapp-bridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "creds.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CredentialRecord{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewGormStore(db)
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"gorm": newGormStore(t),
		"file": NewFileStore(filepath.Join(t.TempDir(), "nested", "credentials.json")),
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx)
			require.ErrorIs(t, err, ErrNoCredentials)

			require.NoError(t, store.Save(ctx, &Credentials{DeviceID: "905551234567:3@s.whatsapp.net", PushName: "MLH"}))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "905551234567:3@s.whatsapp.net", got.DeviceID)
			assert.Equal(t, "MLH", got.PushName)
			assert.False(t, got.PairedAt.IsZero())

			require.NoError(t, store.Save(ctx, &Credentials{DeviceID: "905551234567:3@s.whatsapp.net", PushName: "MLH CRM"}))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "MLH CRM", got.PushName)

			require.NoError(t, store.Wipe(ctx))
			_, err = store.Load(ctx)
			require.ErrorIs(t, err, ErrNoCredentials)

			require.NoError(t, store.Wipe(ctx), "wiping an empty store")
		})
	}
}

func TestSaveKeepsPairedAt(t *testing.T) {
	ctx := context.Background()
	paired := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, &Credentials{DeviceID: "905551234567:3@s.whatsapp.net", PairedAt: paired}))

			// Refreshes from Connected and PushNameSetting carry no pairing time.
			require.NoError(t, store.Save(ctx, &Credentials{DeviceID: "905551234567:3@s.whatsapp.net", PushName: "MLH"}))
			require.NoError(t, store.Save(ctx, &Credentials{DeviceID: "905551234567:3@s.whatsapp.net", PushName: "MLH CRM", PairedAt: time.Now()}))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "MLH CRM", got.PushName)
			assert.True(t, paired.Equal(got.PairedAt), "paired_at moved to %s", got.PairedAt)

			require.NoError(t, store.Wipe(ctx))
			require.NoError(t, store.Save(ctx, &Credentials{DeviceID: "905551234567:4@s.whatsapp.net"}))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.False(t, paired.Equal(got.PairedAt), "a fresh pairing starts a new paired_at")
		})
	}
}

func TestSaveRequiresDeviceID(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Save(context.Background(), &Credentials{}))
			assert.Error(t, store.Save(context.Background(), nil))
		})
	}
}

func TestConcurrentSavesLeaveValidRecord(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, store.Save(ctx, &Credentials{DeviceID: fmt.Sprintf("dev-%d", i)}))
				}(i)
			}
			wg.Wait()

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Regexp(t, `^dev-\d+$`, got.DeviceID)
		})
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredentials)
}
