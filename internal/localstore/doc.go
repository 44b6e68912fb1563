// Package localstore is the on-device key/value persistence layer.
//
// A Store wraps a Backend (raw bytes by key) and enforces the read contract
// the rest of pocketsync relies on: Get never fails. Backend read errors are
// logged and reported as a miss, and a value that no longer decodes as JSON
// is deleted on read (self-healing) and reported as a miss as well.
//
// Backends:
//
//   - SQLiteBackend: modernc.org/sqlite, schema managed by embedded goose
//     migrations. Implements Batcher with one transaction per batch call.
//   - BoltBackend: go.etcd.io/bbolt, single bucket. Implements Batcher.
//   - MemoryBackend: map guarded by a mutex; no native batching.
//
// Batch calls on Store use the backend's Batcher when available and fall back
// to looping over single operations otherwise.
package localstore
