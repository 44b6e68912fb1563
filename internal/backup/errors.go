package backup

import "errors"

var (
	ErrNoPrimaryProvider = errors.New("no primary backup provider configured")
	ErrUnknownProvider   = errors.New("unknown backup provider")
	ErrInvalidBackupID   = errors.New("invalid backup id")
	ErrBackupNotFound    = errors.New("backup not found")
	ErrChecksumMismatch  = errors.New("backup checksum mismatch")
	ErrInvalidFrequency  = errors.New("invalid backup frequency")
)
