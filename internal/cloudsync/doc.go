// Package cloudsync mirrors queued local mutations into the remote object
// store.
//
// A Syncer is an explicit state machine:
//
//	Idle ──mutation──▶ Debouncing ──quiet window──▶ Draining ──ok──▶ Idle
//	                                                   │
//	                                                 failure
//	                                                   ▼
//	                     Draining ◀──2^attempt s── Backoff ──attempts exhausted──▶ Error
//
// Error is terminal until a new mutation arrives or ForceSync is called.
// Only one drain runs at a time; triggers that arrive while a drain is in
// flight are dropped, the running drain keeps pulling batches until the
// queue is empty or a batch reports failures.
//
// A periodic tick drains when the syncer is online, idle and the queue is
// not empty, and expires queue items that exceeded their max age.
package cloudsync
