package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dmitrijs2005/pocketsync/internal/logging"
)

// ReservedPrefix marks keys owned by the engine itself, such as the persisted
// sync status and backup configuration.
const ReservedPrefix = "@pocketsync/"

type Store struct {
	backend Backend
	logger  logging.Logger
}

func New(backend Backend, logger logging.Logger) *Store {
	return &Store{backend: backend, logger: logging.OrNop(logger).With("component", "localstore")}
}

// Get returns the value stored under key. It never fails: backend errors and
// corrupt values are reported as a miss, and corrupt values are deleted.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, "local read failed", "key", key, "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}
	return s.decode(ctx, key, raw)
}

func (s *Store) decode(ctx context.Context, key string, raw []byte) (json.RawMessage, bool) {
	if !json.Valid(raw) {
		s.logger.Warn(ctx, "dropping corrupt local value", "key", key, "size", len(raw))
		if err := s.backend.Delete(ctx, key); err != nil {
			s.logger.Error(ctx, "failed to delete corrupt local value", "key", key, "error", err)
		}
		return nil, false
	}
	return json.RawMessage(raw), true
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("set %q: %w", key, ErrInvalidValue)
	}
	if err := s.backend.Set(ctx, key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// SupportsBatch reports whether batch calls are served natively.
func (s *Store) SupportsBatch() bool {
	_, ok := s.backend.(Batcher)
	return ok
}

// GetMultiple returns the values of the keys that exist. Like Get it never
// fails; on a batch read error it falls back to per-key reads.
func (s *Store) GetMultiple(ctx context.Context, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))

	if b, ok := s.backend.(Batcher); ok {
		raw, err := b.GetMany(ctx, keys)
		if err == nil {
			for k, v := range raw {
				if val, ok := s.decode(ctx, k, v); ok {
					out[k] = val
				}
			}
			return out
		}
		s.logger.Warn(ctx, "batch read failed, reading keys one by one", "count", len(keys), "error", err)
	}

	for _, k := range keys {
		if v, ok := s.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out
}

func (s *Store) SetMultiple(ctx context.Context, values map[string]json.RawMessage) error {
	for k, v := range values {
		if !json.Valid(v) {
			return fmt.Errorf("set %q: %w", k, ErrInvalidValue)
		}
	}

	if b, ok := s.backend.(Batcher); ok {
		raw := make(map[string][]byte, len(values))
		for k, v := range values {
			raw[k] = v
		}
		if err := b.SetMany(ctx, raw); err != nil {
			return fmt.Errorf("set %d keys: %w", len(values), err)
		}
		return nil
	}

	for k, v := range values {
		if err := s.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RemoveMultiple(ctx context.Context, keys []string) error {
	if b, ok := s.backend.(Batcher); ok {
		if err := b.DeleteMany(ctx, keys); err != nil {
			return fmt.Errorf("remove %d keys: %w", len(keys), err)
		}
		return nil
	}

	for _, k := range keys {
		if err := s.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the backend if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
