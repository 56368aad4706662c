package cache

import (
	"context"
	"time"
)

const (
	CompositionsKey = "posfusion:compositions"
	CatalogKey      = "posfusion:catalog"
)

// SnapshotCache holds serialized copies of the registry and catalog. It is
// the secondary source consulted when the primary store cannot be read.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
