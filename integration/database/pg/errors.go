package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFailedToOpenDBConnection = errors.New("failed to open db connection")
	ErrEmptyConnectionString    = errors.New("empty postgres connection string")
	ErrHealthcheckFailed        = errors.New("postgres healthcheck failed")
	ErrFailedToParseDBConfig    = errors.New("failed to parse postgres config")
	ErrFailedToApplyMigrations  = errors.New("failed to apply migrations")
	ErrMigrationsDirNotFound    = errors.New("migrations directory not found")
	ErrMigrationPathNotProvided = errors.New("migrations path not provided")
)

// PostgreSQL error codes checked by the helpers below.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// IsNotFoundError reports whether err means the query returned no rows.
func IsNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateKeyError reports whether err is a unique constraint violation.
func IsDuplicateKeyError(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsForeignKeyViolationError reports whether err is a foreign key violation.
func IsForeignKeyViolationError(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

// IsTxClosedError reports whether err comes from using a finished transaction.
func IsTxClosedError(err error) bool {
	return errors.Is(err, pgx.ErrTxClosed)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
