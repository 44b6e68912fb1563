package localstore

import "errors"

var (
	ErrInvalidValue = errors.New("value is not valid JSON")
	ErrClosed       = errors.New("local store closed")
)
