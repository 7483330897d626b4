package storage_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"realskin-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalObjectStore(t *testing.T) {
	ctx := context.Background()

	store, err := storage.NewLocalObjectStore(t.TempDir(), "outputs")
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))

	require.NoError(t, store.PutObject(ctx, "job-1/final.png", bytes.NewReader([]byte("final image"))))
	require.NoError(t, store.PutObject(ctx, "job-1/comparer.png", bytes.NewReader([]byte("comparer image"))))
	require.NoError(t, store.PutObject(ctx, "job-2/final.png", bytes.NewReader([]byte("other"))))

	t.Run("GetObject", func(t *testing.T) {
		r, err := store.GetObject(ctx, "job-1/final.png")
		require.NoError(t, err)
		defer r.Close()

		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, []byte("final image"), data)
	})

	t.Run("GetObjectMissing", func(t *testing.T) {
		_, err := store.GetObject(ctx, "job-1/nope.png")
		assert.Error(t, err)
	})

	t.Run("DownloadObject", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "nested", "final.png")
		require.NoError(t, store.DownloadObject(ctx, "job-1/final.png", dest))

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, []byte("final image"), data)

		_, err = os.Stat(dest + ".part")
		assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
	})

	t.Run("DownloadObjectMissingLeavesNoFile", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "missing.png")
		require.Error(t, store.DownloadObject(ctx, "job-1/nope.png", dest))

		_, err := os.Stat(dest)
		assert.True(t, os.IsNotExist(err), "failed download must not leave a file behind")
	})

	t.Run("ListObjects", func(t *testing.T) {
		objects, err := store.ListObjects(ctx, "job-1/")
		require.NoError(t, err)

		names := make([]string, 0, len(objects))
		for _, obj := range objects {
			names = append(names, obj.Name)
		}
		assert.ElementsMatch(t, []string{"job-1/final.png", "job-1/comparer.png"}, names)
	})

	t.Run("ObjectURL", func(t *testing.T) {
		url := store.ObjectURL("job-1/final.png")
		assert.True(t, filepath.IsAbs(url))

		data, err := os.ReadFile(url)
		require.NoError(t, err)
		assert.Equal(t, []byte("final image"), data)
	})

	t.Run("DeleteObjects", func(t *testing.T) {
		require.NoError(t, store.DeleteObjects(ctx, "job-1/"))

		objects, err := store.ListObjects(ctx, "job-1/")
		require.NoError(t, err)
		assert.Empty(t, objects)

		remaining, err := store.ListObjects(ctx, "")
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})
}
