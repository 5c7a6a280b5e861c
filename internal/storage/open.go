package storage

import (
	"context"
	"fmt"

	"github.com/tubeshelf/accounts/config"
)

// Open constructs the backend named by cfg.Backend, ensures its bucket
// exists, and wraps it in a Storage.
func Open(ctx context.Context, cfg config.MediaConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case config.StorageBackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case config.StorageBackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	case config.StorageBackendS3:
		backend, err = NewS3Client(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.Backend, err)
	}

	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure %s bucket %q: %w", cfg.Backend, backend.Bucket(), err)
	}
	return NewStorage(backend, cfg.PublicBaseURL), nil
}
