// Package backup snapshots and restores the whole local dataset.
//
// Small datasets are stored as one object, backups/{ts}.json. Datasets larger
// than twice the batch size are streamed as backups/{ts}_chunk_{n}.json so no
// single object grows with the dataset. Backup ids are the millisecond
// timestamp, suffixed with "_chunked" for streamed backups.
package backup
