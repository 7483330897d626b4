package integrationtests

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"realskin-backend/internal/storage"
	"realskin-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func setupTestObjectStore(t *testing.T, ctx context.Context) (*storage.S3ObjectStore, string) {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	objectStore, err := storage.NewS3ObjectStore(bucketName, storage.S3ClientConfig{
		Endpoint:        endpoint,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	require.NoError(t, objectStore.EnsureBucket(ctx))

	return objectStore, endpoint
}

func TestS3ObjectStore_PutObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, _ := setupTestObjectStore(t, ctx)

	key := "test-dir/test-file.txt"
	content := []byte("Test content")

	err := objectStore.PutObject(ctx, key, bytes.NewReader(content))
	require.NoError(t, err)

	obj, err := objectStore.GetObject(ctx, key)
	require.NoError(t, err)
	defer obj.Close()

	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestS3ObjectStore_DownloadObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, _ := setupTestObjectStore(t, ctx)

	key := "inputs/portrait.jpg"
	content := "image bytes"
	require.NoError(t, objectStore.PutObject(ctx, key, strings.NewReader(content)))

	dest := filepath.Join(t.TempDir(), "nested", "portrait.jpg")
	require.NoError(t, objectStore.DownloadObject(ctx, key, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	t.Run("FailedDownloadLeavesNoFile", func(t *testing.T) {
		missingDest := filepath.Join(t.TempDir(), "missing.jpg")
		require.Error(t, objectStore.DownloadObject(ctx, "inputs/no-such-key.jpg", missingDest))

		// A leftover file would be served as a cached input by the resolver.
		_, err := os.Stat(missingDest)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestS3ObjectStore_DeleteObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, _ := setupTestObjectStore(t, ctx)

	prefix := "test-dir"

	files := []string{"test-dir/file1.txt", "test-dir/subdir/file2.txt", "other-dir/file3.txt"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(ctx, file, bytes.NewReader([]byte("content: "+file))))
	}

	objs, err := objectStore.ListObjects(ctx, prefix)
	require.NoError(t, err)
	assert.Len(t, objs, 2)

	require.NoError(t, objectStore.DeleteObjects(context.Background(), prefix))

	newObjs, err := objectStore.ListObjects(ctx, prefix)
	require.NoError(t, err)
	assert.Len(t, newObjs, 0)
}

func TestS3ObjectStore_ObjectURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, endpoint := setupTestObjectStore(t, ctx)

	url := objectStore.ObjectURL("outputs/final.png")
	assert.Equal(t, endpoint+"/"+bucketName+"/outputs/final.png", url)
}

func TestResolverAgainstS3(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, _ := setupTestObjectStore(t, ctx)

	content := []byte("portrait bytes")
	require.NoError(t, objectStore.PutObject(ctx, "portrait.jpg", bytes.NewReader(content)))

	resolver := storage.NewResolver(objectStore, storage.ResolverConfig{
		DownloadDir: t.TempDir(),
		Retries:     3,
		RetryDelay:  time.Millisecond,
	})

	t.Run("Download", func(t *testing.T) {
		resolved, err := resolver.Resolve(ctx, api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"})
		require.NoError(t, err)
		assert.False(t, resolved.UsedFallback)

		data, err := os.ReadFile(resolved.Path)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("FallbackForMissingKey", func(t *testing.T) {
		resolved, err := resolver.Resolve(ctx, api.RunInput{Type: api.InputTypeImageId, Data: "no-such-image.jpg"})
		require.NoError(t, err)
		assert.True(t, resolved.UsedFallback)
	})
}
