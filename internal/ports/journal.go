package ports

import (
	"context"

	"github.com/bft-labs/meshrelay/internal/domain"
)

// Journal persists finished commands.
type Journal interface {
	Record(ctx context.Context, rec domain.CommandRecord) error
	Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error)
	Close() error
}
