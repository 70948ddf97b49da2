package redis

import "errors"

// Connect and Healthcheck wrap every failure in one of these.
var (
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
)
