package cloudsync

import (
	"errors"
	"fmt"
)

var (
	ErrOffline        = errors.New("sync is offline")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrDestroyed      = errors.New("syncer destroyed")
)

// BatchError reports a batch in which some items could not be mirrored.
// The failed items have already been requeued.
type BatchError struct {
	Failed int
	Total  int
	Err    error // first item error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d items failed to sync: %v", e.Failed, e.Total, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
