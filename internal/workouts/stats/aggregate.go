package stats

import (
	"math"
	"sort"

	"github.com/2beens/liftlog/internal/workouts"
)

// TopExercisesLimit caps the exercise ranking.
const TopExercisesLimit = 10

// Records with a non-positive sets, reps or weight are skipped by every
// function in this file: no volume, no weight sample, no count.

type DateVolume struct {
	Date   workouts.Date `json:"date"`
	Volume int64         `json:"volume"`
}

type ExerciseCount struct {
	Exercise string `json:"exercise"`
	Count    int    `json:"count"`
}

// Snapshot is derived on demand and never persisted.
type Snapshot struct {
	Period             Period          `json:"period"`
	PeriodWorkoutCount int             `json:"periodWorkoutCount"`
	TotalVolume        int64           `json:"totalVolume"`
	AverageWeight      int             `json:"averageWeight"`
	VolumeByDate       []DateVolume    `json:"volumeByDate"`
	TopExercises       []ExerciseCount `json:"topExercises"`
}

func Volume(r workouts.Record) int64 {
	if !r.WellFormed() {
		return 0
	}
	return r.Volume()
}

func TotalVolume(records []workouts.Record) int64 {
	var total int64
	for _, r := range records {
		total += Volume(r)
	}
	return total
}

// AverageWeight is the rounded mean weight, 0 for no records.
func AverageWeight(records []workouts.Record) int {
	var sum int64
	var n int
	for _, r := range records {
		if !r.WellFormed() {
			continue
		}
		sum += int64(r.Weight)
		n++
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}

// OneRepMax estimates a one repetition max with the Epley formula.
func OneRepMax(weight, reps int) int {
	if weight <= 0 || reps <= 0 {
		return 0
	}
	return int(math.Round(float64(weight) * (1 + float64(reps)/30)))
}

// VolumeByDate returns one entry per day of the days-long window ending at
// today, oldest first. Days without workouts have zero volume.
func VolumeByDate(records []workouts.Record, today workouts.Date, days int) []DateVolume {
	if days <= 0 {
		return []DateVolume{}
	}

	start := today.AddDays(-(days - 1))
	series := make([]DateVolume, days)
	for i := range series {
		series[i].Date = start.AddDays(i)
	}

	for _, r := range records {
		if !r.WellFormed() || r.WorkoutDate.Before(start) || r.WorkoutDate.After(today) {
			continue
		}
		idx := int(r.WorkoutDate.Sub(start.Time).Hours() / 24)
		series[idx].Volume += r.Volume()
	}

	return series
}

// TopExercises ranks exercise names by how often they occur. Ties keep the
// order in which the names were first seen.
func TopExercises(records []workouts.Record, limit int) []ExerciseCount {
	var ranking []ExerciseCount
	index := make(map[string]int)
	for _, r := range records {
		if !r.WellFormed() {
			continue
		}
		if i, ok := index[r.Exercise]; ok {
			ranking[i].Count++
			continue
		}
		index[r.Exercise] = len(ranking)
		ranking = append(ranking, ExerciseCount{Exercise: r.Exercise, Count: 1})
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Count > ranking[j].Count
	})

	if limit > 0 && len(ranking) > limit {
		ranking = ranking[:limit]
	}
	if ranking == nil {
		return []ExerciseCount{}
	}
	return ranking
}

// InWindow keeps the records dated within the days-long window ending at today.
func InWindow(records []workouts.Record, today workouts.Date, days int) []workouts.Record {
	start := today.AddDays(-(days - 1))
	var filtered []workouts.Record
	for _, r := range records {
		if r.WorkoutDate.Before(start) || r.WorkoutDate.After(today) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// Compute builds the snapshot for one period. records is not modified.
func Compute(records []workouts.Record, today workouts.Date, period Period) Snapshot {
	days := period.Days()
	inPeriod := InWindow(records, today, days)

	count := 0
	for _, r := range inPeriod {
		if r.WellFormed() {
			count++
		}
	}

	return Snapshot{
		Period:             period,
		PeriodWorkoutCount: count,
		TotalVolume:        TotalVolume(inPeriod),
		AverageWeight:      AverageWeight(inPeriod),
		VolumeByDate:       VolumeByDate(inPeriod, today, days),
		TopExercises:       TopExercises(inPeriod, TopExercisesLimit),
	}
}
