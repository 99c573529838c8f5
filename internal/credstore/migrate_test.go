package credstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileToDatabase(t *testing.T) {
	ctx := context.Background()
	src := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	dst := newGormStore(t)
	require.NoError(t, src.Save(ctx, &Credentials{DeviceID: "905551234567:3@s.whatsapp.net", PushName: "MLH", Platform: "android"}))

	creds, err := Copy(ctx, src, dst, false)
	require.NoError(t, err)
	assert.Equal(t, "905551234567:3@s.whatsapp.net", creds.DeviceID)

	got, err := dst.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "MLH", got.PushName)
	assert.Equal(t, "android", got.Platform)

	_, err = src.Load(ctx)
	assert.NoError(t, err, "copy keeps the source")
}

func TestCopyMoveWipesSource(t *testing.T) {
	ctx := context.Background()
	src := newGormStore(t)
	dst := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, src.Save(ctx, &Credentials{DeviceID: "905551234567:3@s.whatsapp.net"}))

	_, err := Copy(ctx, src, dst, true)
	require.NoError(t, err)

	_, err = src.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredentials)
	got, err := dst.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "905551234567:3@s.whatsapp.net", got.DeviceID)
}

func TestCopyEmptySource(t *testing.T) {
	ctx := context.Background()
	src := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	dst := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))

	_, err := Copy(ctx, src, dst, true)
	require.ErrorIs(t, err, ErrNoCredentials)
	_, err = dst.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredentials)
}
