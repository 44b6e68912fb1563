// Package cli provides the pocketsync command-line interface.
//
// Commands are grouped as follows:
//   - get, set, rm, keys, clear: application keys through the coordinator
//   - sync, status, health: the cloud mirror
//   - backup: snapshots and the backup configuration
//   - user: per-user namespaced data (--user selects the namespace)
//   - serve: the long-lived process with background loops and /metrics
//
// One-shot commands that mutate data sync before exiting when the remote is
// reachable.
package cli
