package remote

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("object not found")

const (
	DataPrefix   = "data/"
	BackupPrefix = "backups/"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// ObjectStore is the remote side of the sync engine.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
	// Get returns ErrNotFound (possibly wrapped) for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete of a missing key is not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Pinger is implemented by stores that can cheaply probe reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DataKey maps a local key to its mirrored object key.
func DataKey(key string) string {
	return DataPrefix + key
}

// LocalKey is the inverse of DataKey.
func LocalKey(objectKey string) (string, bool) {
	return strings.CutPrefix(objectKey, DataPrefix)
}

// Ping probes s, falling back to a listing of an empty prefix when s does
// not implement Pinger.
func Ping(ctx context.Context, s ObjectStore) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.List(ctx, "health/")
	return err
}
