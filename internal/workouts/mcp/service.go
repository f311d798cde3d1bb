package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/remote"
	"github.com/2beens/liftlog/internal/workouts/stats"
)

// RecordsSource reads a user's workouts (for dependency injection and testing).
type RecordsSource interface {
	FetchRecords(ctx context.Context, userID string, filters remote.Filters) ([]workouts.Record, error)
}

// statsService provides workout stats for one user. Used by Handler for testability.
type statsService interface {
	GetSchema() string
	GetStats(ctx context.Context, period stats.Period, today *workouts.Date) (stats.Snapshot, error)
	GetPersonalBests(ctx context.Context) ([]stats.PersonalBest, error)
	GetExerciseHistory(ctx context.Context, exercise string, from, to *workouts.Date) ([]stats.HistoryPoint, error)
	GetWeeklyVolume(ctx context.Context, weeks int, today *workouts.Date) ([]stats.WeekVolume, error)
}

// StatsService computes stats over the records the remote store holds for userID.
type StatsService struct {
	records RecordsSource
	userID  string
	now     func() time.Time
}

func NewStatsService(records RecordsSource, userID string) *StatsService {
	return &StatsService{
		records: records,
		userID:  userID,
		now:     time.Now,
	}
}

// GetSchema returns the workouts table definition.
func (s *StatsService) GetSchema() string {
	var b strings.Builder
	b.WriteString("# Liftlog Workouts Schema\n\n")
	b.WriteString("Volume of a workout is sets * reps * weight. Dates are calendar days (YYYY-MM-DD).\n\n")
	b.WriteString("```sql\n")
	b.WriteString(strings.TrimSpace(remote.Schema))
	b.WriteString("\n```\n")
	return b.String()
}

func (s *StatsService) GetStats(ctx context.Context, period stats.Period, today *workouts.Date) (stats.Snapshot, error) {
	end := s.today(today)
	start := end.AddDays(-(period.Days() - 1))
	records, err := s.fetch(ctx, remote.Filters{StartDate: &start, EndDate: &end})
	if err != nil {
		return stats.Snapshot{}, err
	}
	return stats.Compute(records, end, period), nil
}

func (s *StatsService) GetPersonalBests(ctx context.Context) ([]stats.PersonalBest, error) {
	records, err := s.fetch(ctx, remote.Filters{})
	if err != nil {
		return nil, err
	}
	return stats.PersonalBests(records), nil
}

func (s *StatsService) GetExerciseHistory(ctx context.Context, exercise string, from, to *workouts.Date) ([]stats.HistoryPoint, error) {
	records, err := s.fetch(ctx, remote.Filters{StartDate: from, EndDate: to})
	if err != nil {
		return nil, err
	}
	return stats.ExerciseHistory(records, exercise), nil
}

func (s *StatsService) GetWeeklyVolume(ctx context.Context, weeks int, today *workouts.Date) ([]stats.WeekVolume, error) {
	end := s.today(today)
	start := end.AddDays(-7 * weeks)
	records, err := s.fetch(ctx, remote.Filters{StartDate: &start, EndDate: &end})
	if err != nil {
		return nil, err
	}
	return stats.WeeklyVolume(records, end, weeks), nil
}

func (s *StatsService) fetch(ctx context.Context, filters remote.Filters) ([]workouts.Record, error) {
	records, err := s.records.FetchRecords(ctx, s.userID, filters)
	if err != nil {
		return nil, fmt.Errorf("fetch workouts for %s: %w", s.userID, err)
	}
	return records, nil
}

func (s *StatsService) today(today *workouts.Date) workouts.Date {
	if today != nil {
		return *today
	}
	return workouts.DateOf(s.now())
}
