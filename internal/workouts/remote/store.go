package remote

import (
	"context"
	_ "embed"

	"github.com/2beens/liftlog/internal/workouts"
)

// Schema creates the workouts table the Postgres store expects.
//
//go:embed schema.sql
var Schema string

// Filters narrow a fetch. Dates are inclusive; Limit 0 means no limit.
type Filters struct {
	StartDate *workouts.Date
	EndDate   *workouts.Date
	Limit     int
}

// Store is the authoritative, owner scoped workout store.
// Errors are workouts.ErrNotFound, workouts.ErrConstraintViolation or
// anything else, which callers treat as the store being unavailable.
type Store interface {
	// FetchRecords returns the user's records, newest workout first.
	FetchRecords(ctx context.Context, userID string, filters Filters) ([]workouts.Record, error)
	// InsertRecord stores a record and returns it with the id the store assigned.
	// Inserting a record with an already stored ClientRef returns the stored row.
	InsertRecord(ctx context.Context, record workouts.Record) (*workouts.Record, error)
	// InsertRecords is all or nothing.
	InsertRecords(ctx context.Context, records []workouts.Record) ([]workouts.Record, error)
	DeleteRecord(ctx context.Context, id, userID string) error
}
