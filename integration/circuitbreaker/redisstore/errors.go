package redisstore

import "errors"

var (
	ErrNilClient     = errors.New("redisstore: nil redis client")
	ErrUnexpectedCAS = errors.New("redisstore: unexpected compare-and-swap reply")
)
