package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const tmpSuffix = ".tmp"

// FileProvider stores one file per key in a directory.
// Writes go to a temporary file that is renamed into place.
type FileProvider struct {
	dir string
}

// NewFileProvider creates dir if needed.
func NewFileProvider(dir string) (*FileProvider, error) {
	if dir == "" {
		return nil, errors.New("storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
	}
	return &FileProvider{dir: dir}, nil
}

func (f *FileProvider) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key))
}

func (f *FileProvider) Ready(context.Context) error { return nil }

func (f *FileProvider) IsReadySync() bool { return true }

func (f *FileProvider) GetItem(_ context.Context, key string) (string, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f *FileProvider) SetItem(_ context.Context, key, value string) error {
	tmp, err := os.CreateTemp(f.dir, "write-*"+tmpSuffix)
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

func (f *FileProvider) RemoveItem(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileProvider) GetAllKeys(context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *FileProvider) Close() error { return nil }
