package pgstore

const (
	// NotifyChannel carries the key of every changed breaker state.
	NotifyChannel = "circuit_breaker_states_changed"

	selectStateQuery = `
SELECT state FROM circuit_breaker_states
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	// insertStateQuery claims a key that is missing or expired.
	insertStateQuery = `
INSERT INTO circuit_breaker_states (key, state, expires_at, updated_at)
VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 millisecond' END, now())
ON CONFLICT (key) DO UPDATE
SET state = EXCLUDED.state, expires_at = EXCLUDED.expires_at, updated_at = now()
WHERE circuit_breaker_states.expires_at IS NOT NULL AND circuit_breaker_states.expires_at <= now()
RETURNING state`

	// updateStateQuery replaces a live state equal to the expected one.
	updateStateQuery = `
UPDATE circuit_breaker_states
SET state = $2,
    expires_at = CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 millisecond' END,
    updated_at = now()
WHERE key = $1 AND state = $4 AND (expires_at IS NULL OR expires_at > now())
RETURNING state`

	notifyQuery = `SELECT pg_notify($1, $2)`
)

// deleteStateQuery drops a live state equal to the expected one.
const deleteStateQuery = `
DELETE FROM circuit_breaker_states
WHERE key = $1 AND state = $2 AND (expires_at IS NULL OR expires_at > now())
RETURNING ''`
