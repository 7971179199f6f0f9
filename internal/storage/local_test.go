package storage_test

import (
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maynagashev/beatmaps-cdn/internal/storage"
)

func setupLocalStorage(t *testing.T) (*storage.LocalStorage, afero.Fs) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/zip/a/abc.zip", []byte("zip-bytes"), 0o644))
	require.NoError(t, fsys.MkdirAll("/zip/b", 0o755))
	return storage.NewLocalStorage(fsys, zaptest.NewLogger(t)), fsys
}

func TestLocalStorage_Exists(t *testing.T) {
	s, _ := setupLocalStorage(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "existing file", path: "/zip/a/abc.zip", expected: true},
		{name: "missing file", path: "/zip/a/missing.zip", expected: false},
		{name: "missing directory", path: "/nope/x.zip", expected: false},
		{name: "directory is not a file", path: "/zip/b", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := s.Exists(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestLocalStorage_Open(t *testing.T) {
	s, _ := setupLocalStorage(t)
	ctx := context.Background()

	t.Run("existing file", func(t *testing.T) {
		rc, info, err := s.Open(ctx, "/zip/a/abc.zip")
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "zip-bytes", string(data))
		assert.Equal(t, int64(len("zip-bytes")), info.Size)
	})

	t.Run("missing file", func(t *testing.T) {
		rc, _, err := s.Open(ctx, "/zip/a/missing.zip")
		require.ErrorIs(t, err, storage.ErrObjectNotFound)
		assert.Nil(t, rc)
	})

	t.Run("directory", func(t *testing.T) {
		rc, _, err := s.Open(ctx, "/zip/b")
		require.ErrorIs(t, err, storage.ErrObjectNotFound)
		assert.Nil(t, rc)
	})
}
