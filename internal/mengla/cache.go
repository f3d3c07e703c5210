package mengla

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrBulkClearUnsupported is returned by a Clearer that cannot clear safely.
var ErrBulkClearUnsupported = errors.New("cache: bulk clear unsupported")

// Cache is the key-value store shared by the coordinator and the webhook path.
//
// Contract:
// - Get returns found=false for an absent key; a stored JSON null is found.
// - Put overwrites unconditionally; Delete is a no-op for absent keys.
// - Single-key operations are atomic; there is no ordering across keys.
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
}

// Clearer is implemented by caches that support removing every entry they own.
type Clearer interface {
	Clear(ctx context.Context) error
}
