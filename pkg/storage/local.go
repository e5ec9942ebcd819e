package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage serves objects from a directory behind a static file route.
type LocalStorage struct {
	basePath string
	urlBase  string
}

// LocalConfig holds configuration for local storage.
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
	URLBase  string `mapstructure:"url_base"` // prefix of the static route, default "/"
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	urlBase := strings.TrimSuffix(cfg.URLBase, "/")
	return &LocalStorage{basePath: absPath, urlBase: urlBase}, nil
}

// fullPath maps a key under basePath; keys escaping it resolve to basePath.
func (s *LocalStorage) fullPath(key string) string {
	cleanKey := filepath.Clean("/" + key)
	return filepath.Join(s.basePath, cleanKey)
}

// Exists checks if an object with the given key exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// GetURL returns the static route path for the object. expires is ignored.
func (s *LocalStorage) GetURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("file not found: %s", key)
	}
	return s.urlBase + "/" + strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+key)), "/"), nil
}

// BasePath returns the base path for the storage.
func (s *LocalStorage) BasePath() string {
	return s.basePath
}
