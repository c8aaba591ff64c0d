package securestorage

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func sampleInfo() ConnectionInfo {
	return ConnectionInfo{
		Addr:      "127.0.0.1:8765",
		Port:      8765,
		AuthToken: "3f1c0c2e-8c1e-4c59-9a43-1f6f0c3c4d10",
		Ready:     true,
		StartedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func roundTrip(t *testing.T, s Storage) {
	t.Helper()
	require.True(t, s.IsAvailable())

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Store(sampleInfo()))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleInfo(), got)

	require.NoError(t, s.Delete())
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete())
}

func TestKeyringStorage(t *testing.T) {
	keyring.MockInit()
	s := NewStorage(t.TempDir())
	assert.IsType(t, &keyringStorage{}, s)
	roundTrip(t, s)
}

func TestFileStorage(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/tmp", 0755))
	s := NewFileStorage(fs, "/tmp")
	roundTrip(t, s)

	require.NoError(t, s.Store(sampleInfo()))
	info, err := fs.Stat("/tmp/" + FileName)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	exists, err := afero.Exists(fs, "/tmp/"+FileName+".tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}
