package measurement

import (
	"context"
	"strings"
)

// Store is a Catalog that also keeps records.
type Store interface {
	Catalog
	RecordStore
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise an
// in-memory one serving lib.
func NewStore(ctx context.Context, databaseURL string, lib *Library) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryCatalog(lib), nil
	}
	return NewPostgresCatalog(ctx, databaseURL, lib)
}
