//go:build integration_test || all_tests

package test

import (
	"context"
	"time"

	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/remote"
)

func storeRecord(userID, clientRef string, weight int, date workouts.Date) workouts.Record {
	return workouts.Record{
		UserID:      userID,
		ClientRef:   clientRef,
		Exercise:    "Overhead Press",
		Sets:        3,
		Reps:        8,
		Weight:      weight,
		WorkoutDate: date,
	}
}

func (s *IntegrationTestSuite) TestPgStore_InsertFetchDelete() {
	ctx := context.Background()
	store := remote.NewPgStore(s.dbPool)

	notes := "paused reps"
	record := storeRecord("pg-user", "ref-1", 95, workouts.NewDate(2024, 3, 1))
	record.Notes = &notes
	record.CreatedAt = time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)

	inserted, err := store.InsertRecord(ctx, record)
	s.Require().NoError(err)
	s.NotEmpty(inserted.ID)
	s.Equal("ref-1", inserted.ClientRef)
	s.Equal(record.CreatedAt, inserted.CreatedAt)
	s.Require().NotNil(inserted.Notes)
	s.Equal(notes, *inserted.Notes)

	// replaying the same client ref returns the stored row
	replayed, err := store.InsertRecord(ctx, record)
	s.Require().NoError(err)
	s.Equal(inserted.ID, replayed.ID)
	s.Equal(1, s.countRows("pg-user"))

	_, err = store.InsertRecord(ctx, storeRecord("pg-user", "ref-2", 100, workouts.NewDate(2024, 3, 8)))
	s.Require().NoError(err)

	all, err := store.FetchRecords(ctx, "pg-user", remote.Filters{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("ref-2", all[0].ClientRef)

	from := workouts.NewDate(2024, 3, 2)
	filtered, err := store.FetchRecords(ctx, "pg-user", remote.Filters{StartDate: &from})
	s.Require().NoError(err)
	s.Require().Len(filtered, 1)
	s.Equal(100, filtered[0].Weight)

	limited, err := store.FetchRecords(ctx, "pg-user", remote.Filters{Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)

	others, err := store.FetchRecords(ctx, "other-pg-user", remote.Filters{})
	s.Require().NoError(err)
	s.Empty(others)

	s.ErrorIs(store.DeleteRecord(ctx, inserted.ID, "other-pg-user"), workouts.ErrNotFound)
	s.Require().NoError(store.DeleteRecord(ctx, inserted.ID, "pg-user"))
	s.ErrorIs(store.DeleteRecord(ctx, inserted.ID, "pg-user"), workouts.ErrNotFound)
	s.ErrorIs(store.DeleteRecord(ctx, "not-a-uuid", "pg-user"), workouts.ErrNotFound)
	s.Equal(1, s.countRows("pg-user"))
}

func (s *IntegrationTestSuite) TestPgStore_ConstraintViolation() {
	ctx := context.Background()
	store := remote.NewPgStore(s.dbPool)

	_, err := store.InsertRecord(ctx, storeRecord("pg-user", "ref-zero", 0, workouts.NewDate(2024, 3, 1)))
	s.Require().Error(err)
	s.ErrorIs(err, workouts.ErrConstraintViolation)
	s.Equal(0, s.countRows("pg-user"))
}

func (s *IntegrationTestSuite) TestPgStore_InsertRecordsIsAllOrNothing() {
	ctx := context.Background()
	store := remote.NewPgStore(s.dbPool)

	batch := []workouts.Record{
		storeRecord("batch-user", "b-1", 95, workouts.NewDate(2024, 3, 1)),
		storeRecord("batch-user", "b-2", 0, workouts.NewDate(2024, 3, 2)),
	}
	_, err := store.InsertRecords(ctx, batch)
	s.Require().Error(err)
	s.ErrorIs(err, workouts.ErrConstraintViolation)
	s.Equal(0, s.countRows("batch-user"))

	batch[1].Weight = 105
	inserted, err := store.InsertRecords(ctx, batch)
	s.Require().NoError(err)
	s.Require().Len(inserted, 2)
	s.Equal("b-1", inserted[0].ClientRef)
	s.Equal("b-2", inserted[1].ClientRef)
	s.Equal(2, s.countRows("batch-user"))

	empty, err := store.InsertRecords(ctx, nil)
	s.Require().NoError(err)
	s.Empty(empty)
}
