package storage_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"realskin-backend/internal/storage"
	"realskin-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failures download attempts, then delegates to a
// local store.
type flakyStore struct {
	storage.ObjectStore
	failures int
	attempts int
}

func (s *flakyStore) DownloadObject(ctx context.Context, key, filename string) error {
	s.attempts++
	if s.attempts <= s.failures {
		return assert.AnError
	}
	return s.ObjectStore.DownloadObject(ctx, key, filename)
}

func newTestResolver(t *testing.T, store storage.ObjectStore) (*storage.Resolver, string) {
	downloadDir := t.TempDir()
	resolver := storage.NewResolver(store, storage.ResolverConfig{
		DownloadDir: downloadDir,
		Retries:     3,
		RetryDelay:  time.Millisecond,
	})
	return resolver, downloadDir
}

func seedBucket(t *testing.T, key string, content []byte) storage.ObjectStore {
	store, err := storage.NewLocalObjectStore(t.TempDir(), "images")
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background()))
	require.NoError(t, store.PutObject(context.Background(), key, bytes.NewReader(content)))
	return store
}

func TestResolveImageId(t *testing.T) {
	content := []byte("jpeg bytes")
	store := seedBucket(t, "portrait.jpg", content)
	resolver, downloadDir := newTestResolver(t, store)

	resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"})
	require.NoError(t, err)
	assert.False(t, resolved.UsedFallback)
	assert.Equal(t, filepath.Join(downloadDir, "portrait.jpg"), resolved.Path)

	data, err := os.ReadFile(resolved.Path)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestResolveImageIdUsesCache(t *testing.T) {
	store := seedBucket(t, "portrait.jpg", []byte("remote"))
	flaky := &flakyStore{ObjectStore: store, failures: 100}
	resolver, downloadDir := newTestResolver(t, flaky)

	cached := filepath.Join(downloadDir, "portrait.jpg")
	require.NoError(t, os.WriteFile(cached, []byte("cached"), 0o644))

	resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"})
	require.NoError(t, err)
	assert.Equal(t, cached, resolved.Path)
	assert.False(t, resolved.UsedFallback)
	assert.Zero(t, flaky.attempts)
}

func TestResolveImageIdRetries(t *testing.T) {
	content := []byte("jpeg bytes")
	store := seedBucket(t, "portrait.jpg", content)
	flaky := &flakyStore{ObjectStore: store, failures: 2}
	resolver, _ := newTestResolver(t, flaky)

	resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"})
	require.NoError(t, err)
	assert.False(t, resolved.UsedFallback)
	assert.Equal(t, 3, flaky.attempts)

	data, err := os.ReadFile(resolved.Path)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestResolveImageIdFallback(t *testing.T) {
	store := seedBucket(t, "other.jpg", []byte("x"))
	flaky := &flakyStore{ObjectStore: store, failures: 100}
	resolver, _ := newTestResolver(t, flaky)

	resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"})
	require.NoError(t, err)
	assert.True(t, resolved.UsedFallback)
	assert.Equal(t, 3, flaky.attempts)

	// The generated placeholder must be a readable file.
	info, err := os.Stat(resolved.Path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

// truncatingStore leaves an empty file at the destination before failing,
// imitating a transfer that dies mid-write.
type truncatingStore struct {
	storage.ObjectStore
	attempts int
}

func (s *truncatingStore) DownloadObject(ctx context.Context, key, filename string) error {
	s.attempts++
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	f.Close()
	return assert.AnError
}

func TestResolveImageIdFailedDownloadNotCached(t *testing.T) {
	store := seedBucket(t, "other.jpg", []byte("x"))
	broken := &truncatingStore{ObjectStore: store}
	resolver, downloadDir := newTestResolver(t, broken)

	first, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"})
	require.NoError(t, err)
	assert.True(t, first.UsedFallback)

	// Failed attempts must not leave anything the cache check could
	// mistake for a downloaded image.
	_, err = os.Stat(filepath.Join(downloadDir, "portrait.jpg"))
	assert.True(t, os.IsNotExist(err))

	second, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"})
	require.NoError(t, err)
	assert.True(t, second.UsedFallback, "a truncated leftover must not be served as a cached image")
	assert.Equal(t, 6, broken.attempts, "the second job must retry the download, not hit the cache")
}

func TestResolveUrl(t *testing.T) {
	content := []byte("remote jpeg bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/portrait.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(content)
	}))
	defer server.Close()

	store := seedBucket(t, "unused.jpg", []byte("x"))
	resolver, _ := newTestResolver(t, store)

	t.Run("Download", func(t *testing.T) {
		resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeUrl, Data: server.URL + "/images/portrait.jpg"})
		require.NoError(t, err)
		assert.False(t, resolved.UsedFallback)

		data, err := os.ReadFile(resolved.Path)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("QueryStringStrippedFromExtension", func(t *testing.T) {
		resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeUrl, Data: server.URL + "/images/portrait.jpg?token=abc&expires=123"})
		require.NoError(t, err)
		assert.Equal(t, ".jpg", filepath.Ext(resolved.Path))
		assert.NotContains(t, filepath.Base(resolved.Path), "?")
	})

	t.Run("FallbackOnErrorStatus", func(t *testing.T) {
		resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeUrl, Data: server.URL + "/images/missing.jpg"})
		require.NoError(t, err)
		assert.True(t, resolved.UsedFallback)
	})
}

func TestResolveImageIdConfiguredFallback(t *testing.T) {
	store := seedBucket(t, "other.jpg", []byte("x"))
	flaky := &flakyStore{ObjectStore: store, failures: 100}

	fallback := filepath.Join(t.TempDir(), "bundled.png")
	require.NoError(t, os.WriteFile(fallback, []byte("bundled image"), 0o644))

	resolver := storage.NewResolver(flaky, storage.ResolverConfig{
		DownloadDir:   t.TempDir(),
		FallbackImage: fallback,
		Retries:       2,
		RetryDelay:    time.Millisecond,
	})

	resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"})
	require.NoError(t, err)
	assert.True(t, resolved.UsedFallback)
	assert.Equal(t, fallback, resolved.Path)
}

func TestResolveBase64(t *testing.T) {
	store := seedBucket(t, "unused.jpg", []byte("x"))
	resolver, _ := newTestResolver(t, store)

	raw := []byte{0x89, 0x50, 0x4e, 0x47, 1, 2, 3}
	encoded := base64.StdEncoding.EncodeToString(raw)

	t.Run("Plain", func(t *testing.T) {
		resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeBase64, Data: encoded})
		require.NoError(t, err)
		assert.False(t, resolved.UsedFallback)

		data, err := os.ReadFile(resolved.Path)
		require.NoError(t, err)
		assert.Equal(t, raw, data)
	})

	t.Run("DataURL", func(t *testing.T) {
		resolved, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeBase64, Data: "data:image/png;base64," + encoded})
		require.NoError(t, err)

		data, err := os.ReadFile(resolved.Path)
		require.NoError(t, err)
		assert.Equal(t, raw, data)
	})

	t.Run("Malformed", func(t *testing.T) {
		// Bad payloads are an error, never a fallback: the client sent the
		// image itself, substituting a different one would be wrong.
		_, err := resolver.Resolve(context.Background(), api.RunInput{Type: api.InputTypeBase64, Data: "!!not base64!!"})
		assert.Error(t, err)
	})
}

func TestResolveUnknownType(t *testing.T) {
	store := seedBucket(t, "unused.jpg", []byte("x"))
	resolver, _ := newTestResolver(t, store)

	_, err := resolver.Resolve(context.Background(), api.RunInput{Type: "carrier_pigeon", Data: "x"})
	assert.Error(t, err)
}
