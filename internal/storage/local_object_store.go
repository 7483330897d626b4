package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalObjectStore keeps objects under baseDir/bucket/key. Used by local mode
// and tests in place of a remote object store.
type LocalObjectStore struct {
	baseDir string
	bucket  string
}

var _ ObjectStore = (*LocalObjectStore)(nil)

func NewLocalObjectStore(dir, bucket string) (*LocalObjectStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	return &LocalObjectStore{baseDir: baseDir, bucket: bucket}, nil
}

func (s *LocalObjectStore) fullpath(key string) string {
	return filepath.Join(s.baseDir, s.bucket, filepath.FromSlash(key))
}

func (s *LocalObjectStore) EnsureBucket(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.baseDir, s.bucket), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create bucket directory %s: %w", s.bucket, err)
	}
	return nil
}

func (s *LocalObjectStore) PutObject(ctx context.Context, key string, data io.Reader) error {
	path := s.fullpath(key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", s.bucket, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", s.bucket, key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", s.bucket, key, err)
	}

	return nil
}

func (s *LocalObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(s.fullpath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s/%s: %w", s.bucket, key, err)
	}
	return file, nil
}

func (s *LocalObjectStore) DownloadObject(ctx context.Context, key, filename string) error {
	src, err := s.GetObject(ctx, key)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for download %s: %w", filepath.Dir(filename), err)
	}

	// Same temp-then-rename contract as the S3 store: a file at filename
	// means the download completed.
	tmpname := filename + ".part"
	dst, err := os.Create(tmpname)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", tmpname, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpname)
		return fmt.Errorf("failed to write file %s: %w", filename, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpname)
		return fmt.Errorf("failed to close file %s: %w", tmpname, err)
	}
	if err := os.Rename(tmpname, filename); err != nil {
		os.Remove(tmpname)
		return fmt.Errorf("failed to rename downloaded file to %s: %w", filename, err)
	}
	return nil
}

func (s *LocalObjectStore) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	root := filepath.Join(s.baseDir, s.bucket)

	var objects []Object
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}

		key := filepath.ToSlash(strings.TrimPrefix(strings.TrimPrefix(path, root), string(filepath.Separator)))
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, Object{Name: key, Size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects in %s/%s: %w", s.bucket, prefix, err)
	}

	return objects, nil
}

func (s *LocalObjectStore) DeleteObjects(ctx context.Context, prefix string) error {
	if err := os.RemoveAll(s.fullpath(prefix)); err != nil {
		return fmt.Errorf("failed to delete objects in %s/%s: %w", s.bucket, prefix, err)
	}
	return nil
}

func (s *LocalObjectStore) ObjectURL(key string) string {
	return s.fullpath(key)
}
