package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
)

// LocalStorage stores blobs on the local filesystem. Intended for development
// and single-node deployments.
type LocalStorage struct {
	basePath string
	baseURL  string
	log      zerolog.Logger
}

func NewLocalStorage(cfg *config.Config, log zerolog.Logger) (*LocalStorage, error) {
	logger := log.With().Str("component", "local-storage").Logger()

	basePath := strings.TrimSpace(cfg.LocalStoragePath)
	if basePath == "" {
		return nil, errors.New("LOCAL_STORAGE_PATH must be set for the local storage backend")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create local storage directory: %w", err)
	}

	storage := &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(strings.TrimSpace(cfg.LocalStorageBaseURL), "/"),
		log:      logger,
	}

	logger.Info().
		Str("path", basePath).
		Str("base_url", storage.baseURL).
		Msg("local storage initialized")

	return storage, nil
}

// resolve joins the key under basePath, rejecting traversal outside it.
func (l *LocalStorage) resolve(key string) (string, error) {
	full := filepath.Join(l.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.basePath, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return full, nil
}

func (l *LocalStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	fullPath, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, body)
	if err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	l.log.Debug().
		Str("key", key).
		Int64("bytes", written).
		Msg("blob written to local storage")
	return nil
}

func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	fullPath, err := l.resolve(key)
	if err != nil {
		return nil, "", err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("blob not found: %s", key)
		}
		return nil, "", fmt.Errorf("open file: %w", err)
	}
	return file, detectContentTypeFromPath(fullPath), nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// PresignedURL returns a direct URL under the configured base URL, or a
// file:// URL when none is set. Local paths need no signing.
func (l *LocalStorage) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	fullPath, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("blob not found: %s", key)
	}
	if l.baseURL != "" {
		return fmt.Sprintf("%s/%s", l.baseURL, filepath.ToSlash(key)), nil
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}

func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Health checks that the storage directory is writable.
func (l *LocalStorage) Health(ctx context.Context) error {
	testFile := filepath.Join(l.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	_ = os.Remove(testFile)
	return nil
}

// detectContentTypeFromPath determines content type from the file extension.
func detectContentTypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
