package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// FileStore keeps the ledger in a single local JSON file. Saves go through a
// temporary file and rename so the snapshot is rewritten atomically.
type FileStore struct {
	logger *slog.Logger
	path   string
}

// NewFileStore creates a file-backed ledger store at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads the ledger file. A missing or unparsable file is treated as an
// empty ledger.
func (s *FileStore) Load(_ context.Context) (map[string]time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No ledger file found, starting empty", "path", s.path)
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var entries map[string]time.Time
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("Ledger file is malformed, starting empty", "path", s.path, "error", err)
		return map[string]time.Time{}, nil
	}
	if entries == nil {
		entries = map[string]time.Time{}
	}
	return entries, nil
}

// Save rewrites the ledger file atomically.
func (s *FileStore) Save(_ context.Context, entries map[string]time.Time) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename ledger file: %w", err)
	}
	return nil
}

// GCSStore keeps the ledger in a single Cloud Storage object, for deployments
// without a persistent disk. Object writes are already atomic on the provider
// side; transient failures are retried.
type GCSStore struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
	object string
}

// NewGCSStore creates a Cloud Storage backed ledger store.
func NewGCSStore(client *storage.Client, bucket, object string, logger *slog.Logger) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, object: object, logger: logger}
}

// Load reads the ledger object. A missing or unparsable object is treated as
// an empty ledger.
func (s *GCSStore) Load(ctx context.Context) (map[string]time.Time, error) {
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open ledger reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close ledger reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read ledger object: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying ledger load after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			s.logger.Info("No ledger object found, starting empty", "bucket", s.bucket, "object", s.object)
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("load ledger after retries: %w", err)
	}

	var entries map[string]time.Time
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("Ledger object is malformed, starting empty", "object", s.object, "error", err)
		return map[string]time.Time{}, nil
	}
	if entries == nil {
		entries = map[string]time.Time{}
	}
	return entries, nil
}

// Save rewrites the ledger object.
func (s *GCSStore) Save(ctx context.Context, entries map[string]time.Time) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write ledger object: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close ledger writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying ledger save after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save ledger after retries: %w", err)
	}
	return nil
}
