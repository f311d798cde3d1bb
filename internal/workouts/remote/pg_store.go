package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2beens/liftlog/internal/telemetry/tracing"
	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const recordColumns = `id::text, user_id, client_ref, exercise, sets, reps, weight, workout_date, notes, created_at`

const insertRecordSQL = `INSERT INTO workouts
		(user_id, client_ref, exercise, sets, reps, weight, workout_date, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
	ON CONFLICT ON CONSTRAINT uq_workouts_user_client_ref
		DO UPDATE SET client_ref = EXCLUDED.client_ref
	RETURNING ` + recordColumns + `;`

// PgStore talks to Postgres directly. Every query is scoped by user_id.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{
		db: db,
	}
}

func (s *PgStore) FetchRecords(ctx context.Context, userID string, filters Filters) (_ []workouts.Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.fetch")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.id", userID))

	conditions := []string{"user_id = $1"}
	args := []any{userID}
	if filters.StartDate != nil {
		args = append(args, filters.StartDate.Time)
		conditions = append(conditions, fmt.Sprintf("workout_date >= $%d", len(args)))
	}
	if filters.EndDate != nil {
		args = append(args, filters.EndDate.Time)
		conditions = append(conditions, fmt.Sprintf("workout_date <= $%d", len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM workouts WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY workout_date DESC, created_at DESC, id DESC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []workouts.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("records.count", len(records)))
	return records, nil
}

func (s *PgStore) InsertRecord(ctx context.Context, record workouts.Record) (_ *workouts.Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.insert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("user.id", record.UserID),
		attribute.String("workout.client_ref", record.ClientRef),
	)

	rows, err := s.db.Query(ctx, insertRecordSQL, insertArgs(record)...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	inserted, err := scanSingle(rows)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("workout.id", inserted.ID))
	return inserted, nil
}

func (s *PgStore) InsertRecords(ctx context.Context, records []workouts.Record) (_ []workouts.Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.insert-batch")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("records.count", len(records)))

	if len(records) == 0 {
		return []workouts.Record{}, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Errorf("rollback insert batch: %s", err)
		}
	}()

	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(insertRecordSQL, insertArgs(record)...)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := make([]workouts.Record, 0, len(records))
	for range records {
		rows, err := results.Query()
		if err != nil {
			_ = results.Close()
			return nil, mapPgError(err)
		}
		record, err := scanSingle(rows)
		rows.Close()
		if err != nil {
			_ = results.Close()
			return nil, err
		}
		inserted = append(inserted, *record)
	}
	if err := results.Close(); err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return inserted, nil
}

func (s *PgStore) DeleteRecord(ctx context.Context, id, userID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("workout.id", id),
		attribute.String("user.id", userID),
	)

	tag, err := s.db.Exec(
		ctx,
		`DELETE FROM workouts WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		if pkg.IsInvalidTextRepresentationError(err) {
			return workouts.ErrNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return workouts.ErrNotFound
	}
	return nil
}

func insertArgs(record workouts.Record) []any {
	var createdAt *time.Time
	if !record.CreatedAt.IsZero() {
		createdAt = &record.CreatedAt
	}
	return []any{
		record.UserID,
		record.ClientRef,
		record.Exercise,
		record.Sets,
		record.Reps,
		record.Weight,
		record.WorkoutDate.Time,
		record.Notes,
		createdAt,
	}
}

func scanSingle(rows pgx.Rows) (*workouts.Record, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapPgError(err)
		}
		return nil, errors.New("unexpected error [no rows next]")
	}
	record, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return record, nil
}

func scanRecord(rows pgx.Rows) (*workouts.Record, error) {
	var record workouts.Record
	var workoutDate time.Time
	if err := rows.Scan(
		&record.ID,
		&record.UserID,
		&record.ClientRef,
		&record.Exercise,
		&record.Sets,
		&record.Reps,
		&record.Weight,
		&workoutDate,
		&record.Notes,
		&record.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("rows scan: %w", err)
	}
	record.WorkoutDate = workouts.DateOf(workoutDate)
	record.CreatedAt = record.CreatedAt.UTC()
	return &record, nil
}

func mapPgError(err error) error {
	switch {
	case pkg.IsCheckViolationError(err), pkg.IsNotNullViolationError(err):
		return fmt.Errorf("%w: %w", workouts.ErrConstraintViolation, err)
	default:
		return err
	}
}
