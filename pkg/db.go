package pkg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// https://www.postgresql.org/docs/current/errcodes-appendix.html

// IsCheckViolationError checks if the error is a check constraint violation,
// e.g. a non-positive sets/reps/weight value rejected by the table constraints
func IsCheckViolationError(err error) bool {
	return hasPgCode(err, "23514")
}

// IsNotNullViolationError checks if a required column was left empty
func IsNotNullViolationError(err error) bool {
	return hasPgCode(err, "23502")
}

// IsInvalidTextRepresentationError checks if a value could not be cast,
// e.g. a malformed uuid used as an id
func IsInvalidTextRepresentationError(err error) bool {
	return hasPgCode(err, "22P02")
}

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
