package stats_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/stats"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = workouts.NewDate(2024, time.March, 15)

func rec(exercise string, sets, reps, weight int, date workouts.Date) workouts.Record {
	return workouts.Record{
		ID:          gofakeit.UUID(),
		UserID:      "user-1",
		Exercise:    exercise,
		Sets:        sets,
		Reps:        reps,
		Weight:      weight,
		WorkoutDate: date,
		CreatedAt:   date.Time.Add(time.Hour),
	}
}

func fakeRecords(n int) []workouts.Record {
	exercises := []string{"Squat", "Bench Press", "Deadlift", "Row", "Overhead Press"}
	records := make([]workouts.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, rec(
			exercises[gofakeit.Number(0, len(exercises)-1)],
			gofakeit.Number(1, 8),
			gofakeit.Number(1, 15),
			gofakeit.Number(5, 400),
			today.AddDays(-gofakeit.Number(0, 120)),
		))
	}
	return records
}

func TestVolume(t *testing.T) {
	assert.Equal(t, int64(4050), stats.Volume(rec("Bench Press", 3, 10, 135, today)))
	assert.Equal(t, int64(0), stats.Volume(rec("Bench Press", 3, 10, -5, today)))
	assert.Equal(t, int64(0), stats.Volume(rec("Bench Press", 0, 10, 135, today)))
}

func TestTotalVolume_OrderIndependent(t *testing.T) {
	gofakeit.Seed(42)
	records := fakeRecords(200)

	var want int64
	for _, r := range records {
		want += int64(r.Sets * r.Reps * r.Weight)
	}
	assert.Equal(t, want, stats.TotalVolume(records))

	shuffled := make([]workouts.Record, len(records))
	copy(shuffled, records)
	rnd := rand.New(rand.NewSource(7))
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	assert.Equal(t, want, stats.TotalVolume(shuffled))

	// sum of parts equals the whole
	half := len(records) / 2
	assert.Equal(t, want, stats.TotalVolume(records[:half])+stats.TotalVolume(records[half:]))
}

func TestTotalVolume_SkipsMalformed(t *testing.T) {
	records := []workouts.Record{
		rec("Squat", 5, 5, 225, today),
		rec("Squat", 5, 5, -225, today),
		rec("Squat", 5, 0, 225, today),
	}
	assert.Equal(t, int64(5625), stats.TotalVolume(records))
}

func TestAverageWeight(t *testing.T) {
	assert.Equal(t, 0, stats.AverageWeight(nil))
	assert.Equal(t, 0, stats.AverageWeight([]workouts.Record{}))
	assert.Equal(t, 135, stats.AverageWeight([]workouts.Record{rec("Bench Press", 3, 10, 135, today)}))
	// (100 + 101) / 2 = 100.5 -> 101
	assert.Equal(t, 101, stats.AverageWeight([]workouts.Record{
		rec("Row", 3, 10, 100, today),
		rec("Row", 3, 10, 101, today),
	}))
	// malformed record is not a weight sample
	assert.Equal(t, 100, stats.AverageWeight([]workouts.Record{
		rec("Row", 3, 10, 100, today),
		rec("Row", 0, 10, 500, today),
	}))
	assert.Equal(t, 0, stats.AverageWeight([]workouts.Record{rec("Row", 3, 10, -5, today)}))
}

func TestOneRepMax(t *testing.T) {
	assert.Equal(t, 180, stats.OneRepMax(135, 10))
	assert.Equal(t, 103, stats.OneRepMax(100, 1))
	assert.Equal(t, 0, stats.OneRepMax(100, 0))
	assert.Equal(t, 0, stats.OneRepMax(-100, 5))
}

func TestVolumeByDate_Dense(t *testing.T) {
	for _, days := range []int{1, 7, 30, 90} {
		series := stats.VolumeByDate(nil, today, days)
		require.Len(t, series, days)
		assert.Equal(t, today, series[len(series)-1].Date)
		assert.Equal(t, today.AddDays(-(days - 1)), series[0].Date)
		seen := make(map[workouts.Date]bool)
		for i, point := range series {
			assert.Zero(t, point.Volume)
			assert.False(t, seen[point.Date])
			seen[point.Date] = true
			if i > 0 {
				assert.True(t, series[i-1].Date.Before(point.Date))
			}
		}
	}
}

func TestVolumeByDate_Buckets(t *testing.T) {
	records := []workouts.Record{
		rec("Squat", 5, 5, 100, today),
		rec("Bench Press", 3, 10, 100, today),
		rec("Row", 3, 10, 50, today.AddDays(-2)),
		rec("Row", 3, 10, 50, today.AddDays(-7)),  // outside a 7 day window
		rec("Row", 3, 10, 50, today.AddDays(1)),   // future
		rec("Row", 3, 10, -50, today.AddDays(-1)), // malformed
	}
	series := stats.VolumeByDate(records, today, 7)
	require.Len(t, series, 7)
	assert.Equal(t, int64(5500), series[6].Volume)
	assert.Equal(t, int64(0), series[5].Volume)
	assert.Equal(t, int64(1500), series[4].Volume)
	assert.Equal(t, int64(0), series[0].Volume)
}

func TestTopExercises_StableTieBreak(t *testing.T) {
	var records []workouts.Record
	for i := 0; i < 3; i++ {
		records = append(records, rec("Squat", 1, 1, 1, today))
	}
	for i := 0; i < 5; i++ {
		records = append(records, rec("Bench", 1, 1, 1, today))
	}
	for i := 0; i < 5; i++ {
		records = append(records, rec("Row", 1, 1, 1, today))
	}

	ranking := stats.TopExercises(records, stats.TopExercisesLimit)
	assert.Equal(t, []stats.ExerciseCount{
		{Exercise: "Bench", Count: 5},
		{Exercise: "Row", Count: 5},
		{Exercise: "Squat", Count: 3},
	}, ranking)
}

func TestTopExercises_CaseSensitiveAndTruncated(t *testing.T) {
	var records []workouts.Record
	for i := 0; i < 12; i++ {
		records = append(records, rec(gofakeit.Numerify("Exercise ###")+string(rune('a'+i)), 1, 1, 1, today))
	}
	records = append(records, rec("squat", 1, 1, 1, today), rec("Squat", 1, 1, 1, today))

	ranking := stats.TopExercises(records, stats.TopExercisesLimit)
	require.Len(t, ranking, stats.TopExercisesLimit)
	for _, ec := range ranking {
		assert.Equal(t, 1, ec.Count)
	}
	assert.Equal(t, records[0].Exercise, ranking[0].Exercise)

	assert.Equal(t, []stats.ExerciseCount{}, stats.TopExercises(nil, stats.TopExercisesLimit))
}

func TestCompute(t *testing.T) {
	records := []workouts.Record{
		rec("Bench Press", 3, 10, 135, today),
		rec("Squat", 5, 5, 225, today.AddDays(-3)),
		rec("Squat", 5, 5, 235, today.AddDays(-20)),
		rec("Deadlift", 1, 5, 315, today.AddDays(-100)),
		rec("Squat", 5, 5, -1, today),
	}
	original := make([]workouts.Record, len(records))
	copy(original, records)

	snapToday := stats.Compute(records, today, stats.PeriodToday)
	assert.Equal(t, 1, snapToday.PeriodWorkoutCount)
	assert.Equal(t, int64(4050), snapToday.TotalVolume)
	assert.Equal(t, 135, snapToday.AverageWeight)
	assert.Len(t, snapToday.VolumeByDate, 1)

	snapWeek := stats.Compute(records, today, stats.PeriodWeek)
	assert.Equal(t, 2, snapWeek.PeriodWorkoutCount)
	assert.Equal(t, int64(4050+5625), snapWeek.TotalVolume)
	assert.Equal(t, 180, snapWeek.AverageWeight)
	assert.Len(t, snapWeek.VolumeByDate, 7)
	assert.Equal(t, []stats.ExerciseCount{
		{Exercise: "Bench Press", Count: 1},
		{Exercise: "Squat", Count: 1},
	}, snapWeek.TopExercises)

	snapMonth := stats.Compute(records, today, stats.PeriodMonth)
	assert.Equal(t, 3, snapMonth.PeriodWorkoutCount)
	assert.Equal(t, []stats.ExerciseCount{
		{Exercise: "Squat", Count: 2},
		{Exercise: "Bench Press", Count: 1},
	}, snapMonth.TopExercises)

	snapSeason := stats.Compute(records, today, stats.PeriodSeason)
	assert.Equal(t, 3, snapSeason.PeriodWorkoutCount)
	assert.Len(t, snapSeason.VolumeByDate, 90)

	assert.Equal(t, original, records)
}

func TestParsePeriod(t *testing.T) {
	for in, want := range map[string]stats.Period{
		"today": stats.PeriodToday,
		"TODAY": stats.PeriodToday,
		"7":     stats.PeriodWeek,
		"":      stats.PeriodWeek,
		"30":    stats.PeriodMonth,
		"90":    stats.PeriodSeason,
	} {
		got, err := stats.ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := stats.ParsePeriod("365")
	require.Error(t, err)
}
