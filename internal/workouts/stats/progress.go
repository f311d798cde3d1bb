package stats

import (
	"math"
	"sort"

	"github.com/2beens/liftlog/internal/workouts"
)

// HistoryPoint holds, for one day, the average weight and reps of an exercise
// and the number of sets done.
type HistoryPoint struct {
	Date      workouts.Date `json:"date"`
	AvgWeight int           `json:"avgWeight"`
	AvgReps   int           `json:"avgReps"`
	Sets      int           `json:"sets"`
	Volume    int64         `json:"volume"`
}

type PersonalBest struct {
	Exercise  string          `json:"exercise"`
	OneRepMax int             `json:"oneRepMax"`
	Record    workouts.Record `json:"record"`
}

type WeekVolume struct {
	Year   int           `json:"year"`
	Week   int           `json:"week"`
	Start  workouts.Date `json:"start"`
	Volume int64         `json:"volume"`
}

// ExerciseHistory groups the records of one exercise by day, oldest day first.
func ExerciseHistory(records []workouts.Record, exercise string) []HistoryPoint {
	type acc struct {
		weightSum, repsSum int64
		n, sets            int
		volume             int64
	}
	byDay := make(map[workouts.Date]*acc)
	for _, r := range records {
		if r.Exercise != exercise || !r.WellFormed() {
			continue
		}
		a, ok := byDay[r.WorkoutDate]
		if !ok {
			a = &acc{}
			byDay[r.WorkoutDate] = a
		}
		a.weightSum += int64(r.Weight)
		a.repsSum += int64(r.Reps)
		a.n++
		a.sets += r.Sets
		a.volume += r.Volume()
	}

	history := make([]HistoryPoint, 0, len(byDay))
	for day, a := range byDay {
		history = append(history, HistoryPoint{
			Date:      day,
			AvgWeight: int(math.Round(float64(a.weightSum) / float64(a.n))),
			AvgReps:   int(math.Round(float64(a.repsSum) / float64(a.n))),
			Sets:      a.sets,
			Volume:    a.volume,
		})
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].Date.Before(history[j].Date)
	})
	return history
}

// PersonalBests returns the best estimated one rep max per exercise, highest
// first. On a tie the earlier workout is kept.
func PersonalBests(records []workouts.Record) []PersonalBest {
	best := make(map[string]PersonalBest)
	for _, r := range records {
		if !r.WellFormed() {
			continue
		}
		orm := OneRepMax(r.Weight, r.Reps)
		current, ok := best[r.Exercise]
		if ok && (orm < current.OneRepMax ||
			orm == current.OneRepMax && !r.WorkoutDate.Before(current.Record.WorkoutDate)) {
			continue
		}
		best[r.Exercise] = PersonalBest{Exercise: r.Exercise, OneRepMax: orm, Record: r}
	}

	bests := make([]PersonalBest, 0, len(best))
	for _, pb := range best {
		bests = append(bests, pb)
	}
	sort.Slice(bests, func(i, j int) bool {
		if bests[i].OneRepMax != bests[j].OneRepMax {
			return bests[i].OneRepMax > bests[j].OneRepMax
		}
		return bests[i].Exercise < bests[j].Exercise
	})
	return bests
}

// WeeklyVolume buckets volume by ISO week for the weeks-long window ending
// with the week today is in, oldest week first.
func WeeklyVolume(records []workouts.Record, today workouts.Date, weeks int) []WeekVolume {
	if weeks <= 0 {
		return []WeekVolume{}
	}

	lastStart := weekStart(today)
	firstStart := lastStart.AddDays(-7 * (weeks - 1))
	series := make([]WeekVolume, weeks)
	for i := range series {
		start := firstStart.AddDays(7 * i)
		year, week := start.ISOWeek()
		series[i] = WeekVolume{Year: year, Week: week, Start: start}
	}

	end := lastStart.AddDays(6)
	for _, r := range records {
		if !r.WellFormed() || r.WorkoutDate.Before(firstStart) || r.WorkoutDate.After(end) {
			continue
		}
		idx := int(weekStart(r.WorkoutDate).Sub(firstStart.Time).Hours() / (24 * 7))
		series[idx].Volume += r.Volume()
	}
	return series
}

func weekStart(d workouts.Date) workouts.Date {
	offset := (int(d.Weekday()) + 6) % 7 // monday = 0
	return d.AddDays(-offset)
}
