package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"linegem/internal/domain"
)

// ErrObjectExists is returned by a non-upsert upload to an existing key.
var ErrObjectExists = errors.New("object already exists")

type LocalConfig struct {
	Dir          string // base directory; buckets are subdirectories
	PublicBase   string // URL prefix served by a static file server
	MaxSizeBytes int64  // default 20MB
	Logger       *slog.Logger
}

// Local implements domain.ObjectStore on the filesystem.
type Local struct {
	dir          string
	publicBase   string
	maxSizeBytes int64
	logger       *slog.Logger
}

func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("local storage: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 20 * 1024 * 1024
	}
	if cfg.PublicBase == "" {
		cfg.PublicBase = "file://" + filepath.ToSlash(cfg.Dir)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Local{
		dir:          cfg.Dir,
		publicBase:   strings.TrimRight(cfg.PublicBase, "/"),
		maxSizeBytes: cfg.MaxSizeBytes,
		logger:       cfg.Logger,
	}, nil
}

var _ domain.ObjectStore = (*Local)(nil)

// Upload writes data atomically: a temp file in the target directory is
// renamed over the final name.
func (l *Local) Upload(ctx context.Context, bucket, path string, data []byte, opts domain.UploadOptions) (*domain.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := l.resolve(bucket, path)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxSizeBytes {
		return nil, fmt.Errorf("file too large: %d bytes (max: %d)", len(data), l.maxSizeBytes)
	}
	if !opts.Upsert {
		if _, err := os.Stat(target); err == nil {
			return nil, fmt.Errorf("upload %s/%s: %w", bucket, path, ErrObjectExists)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("rename file: %w", err)
	}

	l.logger.Debug("object stored", "bucket", bucket, "path", path, "size", len(data), "content_type", opts.ContentType)
	return &domain.UploadResult{Key: bucket + "/" + path, Size: len(data)}, nil
}

func (l *Local) PublicURL(bucket, path string) string {
	return l.publicBase + "/" + bucket + "/" + strings.TrimLeft(path, "/")
}

// resolve maps bucket/path to a file below the base directory.
func (l *Local) resolve(bucket, path string) (string, error) {
	if bucket == "" || path == "" {
		return "", fmt.Errorf("upload: bucket and path are required")
	}
	root := filepath.Join(l.dir, bucket)
	target := filepath.Join(root, filepath.FromSlash(path))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("upload: path %q escapes bucket", path)
	}
	return target, nil
}
