package localstore

import "context"

// Backend is raw byte persistence by key. Get returns (nil, nil) when the
// key does not exist.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// Batcher is implemented by backends that can serve several keys in a single
// round trip. GetMany omits keys that do not exist.
type Batcher interface {
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, values map[string][]byte) error
	DeleteMany(ctx context.Context, keys []string) error
}
