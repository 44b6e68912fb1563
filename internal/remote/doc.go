// Package remote defines the opaque object-store contract pocketsync mirrors
// data into, the key layout used on it, and three interchangeable adapters:
//
//   - S3Store: any S3-compatible service through aws-sdk-go-v2.
//   - PostgresStore: a single objects table reached through pgx (database/sql).
//   - MemoryStore: in-process map, for tests and offline development.
//
// Callers match a missing object with errors.Is(err, ErrNotFound).
package remote
