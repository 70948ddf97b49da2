package pgstore

import "errors"

var (
	ErrNilPool     = errors.New("pgstore: nil connection pool")
	ErrStoreClosed = errors.New("pgstore: store is closed")
)
