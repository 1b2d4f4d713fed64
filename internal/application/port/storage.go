package port

import (
	"context"

	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
)

// FileStore persists generated artifacts under relative paths
type FileStore interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
}

// ReportRenderer turns a report snapshot into a downloadable document
type ReportRenderer interface {
	Render(report *entity.Report) ([]byte, error)

	// Extension is the file extension of rendered documents, without the dot
	Extension() string

	ContentType() string
}
