package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/pocketsync/internal/remote"
)

const (
	chunkedSuffix = "_chunked"
	chunkMarker   = "_chunk_"
	objectExt     = ".json"
)

func singleID(ts int64) string  { return strconv.FormatInt(ts, 10) }
func chunkedID(ts int64) string { return singleID(ts) + chunkedSuffix }

func snapshotKey(ts int64) string {
	return remote.BackupPrefix + singleID(ts) + objectExt
}

func chunkKey(ts int64, i int) string {
	return remote.BackupPrefix + singleID(ts) + chunkMarker + strconv.Itoa(i) + objectExt
}

// parseID splits a backup id into its timestamp and whether it is chunked.
func parseID(id string) (int64, bool, error) {
	raw, chunked := strings.CutSuffix(id, chunkedSuffix)
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts <= 0 {
		return 0, false, fmt.Errorf("%q: %w", id, ErrInvalidBackupID)
	}
	return ts, chunked, nil
}

// parseObjectKey recognizes backups/{ts}.json and backups/{ts}_chunk_{n}.json.
func parseObjectKey(key string) (ts int64, chunk int, chunked bool, ok bool) {
	name, found := strings.CutPrefix(key, remote.BackupPrefix)
	if !found {
		return 0, 0, false, false
	}
	if name, found = strings.CutSuffix(name, objectExt); !found {
		return 0, 0, false, false
	}

	rawTS, rawChunk, chunked := strings.Cut(name, chunkMarker)
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil || ts <= 0 {
		return 0, 0, false, false
	}
	if !chunked {
		return ts, 0, false, true
	}
	chunk, err = strconv.Atoi(rawChunk)
	if err != nil || chunk < 0 {
		return 0, 0, false, false
	}
	return ts, chunk, true, true
}

// ListBackups lists the backups held by provider source, newest first.
// Chunks are grouped into one entry per backup. limit <= 0 means no limit.
func (e *Engine) ListBackups(ctx context.Context, source string, limit int) ([]Info, error) {
	store, name, err := e.provider(source)
	if err != nil {
		return nil, err
	}
	objs, err := store.List(ctx, remote.BackupPrefix)
	if err != nil {
		return nil, fmt.Errorf("list backups on %s: %w", name, err)
	}

	byID := make(map[string]*Info)
	for _, o := range objs {
		ts, _, chunked, ok := parseObjectKey(o.Key)
		if !ok {
			e.logger.Debug(ctx, "ignoring unrecognized backup object", "key", o.Key)
			continue
		}
		id := singleID(ts)
		if chunked {
			id = chunkedID(ts)
		}
		info, seen := byID[id]
		if !seen {
			info = &Info{ID: id, Timestamp: time.UnixMilli(ts).UTC(), Chunked: chunked, Provider: name}
			byID[id] = info
		}
		info.Size += o.Size
		if chunked {
			info.Chunks++
		}
	}

	out := make([]Info, 0, len(byID))
	for _, info := range byID {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBackup removes backup id from provider source. For a chunked backup
// every chunk sharing its timestamp is deleted.
func (e *Engine) DeleteBackup(ctx context.Context, id, source string) error {
	store, name, err := e.provider(source)
	if err != nil {
		return err
	}
	ts, chunked, err := parseID(id)
	if err != nil {
		return err
	}

	if !chunked {
		if err := store.Delete(ctx, snapshotKey(ts)); err != nil {
			return fmt.Errorf("delete backup %s on %s: %w", id, name, err)
		}
		e.logger.Info(ctx, "backup deleted", "id", id, "provider", name)
		return nil
	}

	objs, err := store.List(ctx, remote.BackupPrefix+singleID(ts)+chunkMarker)
	if err != nil {
		return fmt.Errorf("list chunks of %s on %s: %w", id, name, err)
	}
	if len(objs) == 0 {
		return fmt.Errorf("%s on %s: %w", id, name, ErrBackupNotFound)
	}

	var errs []error
	for _, o := range objs {
		if err := store.Delete(ctx, o.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", o.Key, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	e.logger.Info(ctx, "backup deleted", "id", id, "provider", name, "chunks", len(objs))
	return nil
}

// GetBackupStats aggregates the listings of every provider. A provider that
// cannot be listed is skipped.
func (e *Engine) GetBackupStats(ctx context.Context) (Stats, error) {
	stats := Stats{Providers: []string{}}

	var listed int
	var lastErr error
	for _, name := range e.Providers() {
		infos, err := e.ListBackups(ctx, name, 0)
		if err != nil {
			e.logger.Warn(ctx, "cannot list backups", "provider", name, "error", err)
			lastErr = err
			continue
		}
		listed++
		if len(infos) == 0 {
			continue
		}
		stats.Count += len(infos)
		stats.Providers = append(stats.Providers, name)
		if infos[0].Timestamp.After(stats.MostRecent) {
			stats.MostRecent = infos[0].Timestamp
		}
	}
	if listed == 0 && lastErr != nil {
		return Stats{}, lastErr
	}

	stats.EstimatedSize = int64(stats.Count) * EstimatedBackupSize
	return stats, nil
}
