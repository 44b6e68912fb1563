package backup

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

const SnapshotVersion = 1

const (
	ProviderPrimary   = "primary"
	ProviderSecondary = "secondary"
)

// EstimatedBackupSize is the flat per-backup size used by Stats.
const EstimatedBackupSize = 512 * 1024

// Snapshot is a whole dataset stored as one object.
type Snapshot struct {
	Timestamp int64                      `json:"timestamp"`
	Version   int                        `json:"version"`
	Checksum  string                     `json:"checksum"`
	Data      map[string]json.RawMessage `json:"data"`
}

// Chunk is one partition of a streamed backup. Every chunk of a backup
// carries the same Timestamp and TotalChunks.
type Chunk struct {
	Timestamp   int64                      `json:"timestamp"`
	ChunkIndex  int                        `json:"chunkIndex"`
	TotalChunks int                        `json:"totalChunks"`
	Checksum    string                     `json:"checksum"`
	Data        map[string]json.RawMessage `json:"data"`
}

// Info describes a stored backup as seen through a listing.
type Info struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Chunked   bool      `json:"chunked"`
	Chunks    int       `json:"chunks,omitempty"`
	Keys      int       `json:"keys,omitempty"`
	Size      int64     `json:"size"`
	Provider  string    `json:"provider"`
}

type RestoreReport struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	Restored     int    `json:"restored"`
	TotalChunks  int    `json:"totalChunks,omitempty"`
	FailedChunks []int  `json:"failedChunks,omitempty"`
}

type Stats struct {
	Count         int       `json:"count"`
	MostRecent    time.Time `json:"mostRecent"`
	Providers     []string  `json:"providers"`
	EstimatedSize int64     `json:"estimatedSize"`
}

// checksum is the hex BLAKE2b-256 of the canonical JSON encoding of data.
// encoding/json sorts map keys, so equal maps hash equally.
func checksum(data map[string]json.RawMessage) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode backup data: %w", err)
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func verify(data map[string]json.RawMessage, want string) error {
	got, err := checksum(data)
	if err != nil {
		return err
	}
	if got != want {
		return ErrChecksumMismatch
	}
	return nil
}
