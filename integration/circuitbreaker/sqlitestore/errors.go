package sqlitestore

import "errors"

var (
	ErrEmptyPath   = errors.New("sqlitestore: empty database path")
	ErrStoreClosed = errors.New("sqlitestore: store is closed")
)
