// Package blob provides the document storage backends. The filesystem
// driver is the dev default, s3 targets AWS or any MinIO-compatible
// endpoint, and memory backs tests.
package blob

import (
	"context"
	"fmt"

	"github.com/pgx-lims-server/internal/domain"
)

const (
	DriverFilesystem = "filesystem"
	DriverS3         = "s3"
	DriverMemory     = "memory"
)

// New constructs the blob store selected by the config driver.
func New(ctx context.Context, config domain.BlobConfig) (domain.BlobStore, error) {
	switch config.Driver {
	case DriverFilesystem, "":
		return NewFilesystemStore(config.Dir)
	case DriverS3:
		return NewS3Store(ctx, config)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", config.Driver)
	}
}
