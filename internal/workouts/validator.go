package workouts

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Upper bounds per field. Their product stays below 2^53, so a record's volume
// and any realistic sum of volumes are exact.
const (
	MaxSets   = 1_000
	MaxReps   = 10_000
	MaxWeight = 100_000
)

// latestZone is the first timezone to reach a new calendar day.
var latestZone = time.FixedZone("UTC+14", 14*60*60)

const (
	FieldExercise    = "exercise"
	FieldSets        = "sets"
	FieldReps        = "reps"
	FieldWeight      = "weight"
	FieldWorkoutDate = "workoutDate"
)

// Validator turns raw submissions into drafts. It has no side effects.
type Validator struct {
	allowFutureDates bool
	now              func() time.Time
}

func NewValidator(allowFutureDates bool) *Validator {
	return &Validator{
		allowFutureDates: allowFutureDates,
		now:              time.Now,
	}
}

// WithClock replaces the clock used to decide what "today" is.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	return &Validator{
		allowFutureDates: v.allowFutureDates,
		now:              now,
	}
}

func (v *Validator) Validate(sub Submission) (Draft, error) {
	return v.ValidateOn(sub, Date{})
}

// ValidateOn validates sub for a client whose own date is clientToday. A zero
// clientToday means the client did not say.
func (v *Validator) ValidateOn(sub Submission, clientToday Date) (Draft, error) {
	var (
		draft  Draft
		failed []FieldError
	)
	fail := func(field string, reason Reason) {
		failed = append(failed, FieldError{Field: field, Reason: reason})
	}

	if sub.Exercise.Blank() {
		fail(FieldExercise, ReasonMissing)
	} else {
		draft.Exercise = strings.TrimSpace(sub.Exercise.String())
	}

	var reason Reason
	if draft.Sets, reason = positiveInt(sub.Sets, MaxSets); reason != "" {
		fail(FieldSets, reason)
	}
	if draft.Reps, reason = positiveInt(sub.Reps, MaxReps); reason != "" {
		fail(FieldReps, reason)
	}
	if draft.Weight, reason = positiveInt(sub.Weight, MaxWeight); reason != "" {
		fail(FieldWeight, reason)
	}

	if sub.WorkoutDate.Blank() {
		fail(FieldWorkoutDate, ReasonMissing)
	} else if date, err := ParseDate(sub.WorkoutDate.String()); err != nil {
		fail(FieldWorkoutDate, ReasonInvalidDate)
	} else if !v.allowFutureDates && date.After(v.today(sub.WorkoutDate.String(), clientToday)) {
		fail(FieldWorkoutDate, ReasonFutureDate)
	} else {
		draft.WorkoutDate = date
	}

	if notes := strings.TrimSpace(sub.Notes.String()); sub.Notes.Present() && notes != "" {
		draft.Notes = &notes
	}

	if len(failed) > 0 {
		return Draft{}, &ValidationError{Fields: failed}
	}
	return draft, nil
}

// today is the latest day a submission may name. The offset of an RFC3339
// workout date and the client's reported date both count as the client's day,
// but never past the day in the latest timezone.
func (v *Validator) today(workoutDate string, clientToday Date) Date {
	now := v.now()
	today := DateOf(now)
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(workoutDate)); err == nil {
		if local := DateOf(now.In(t.Location())); local.After(today) {
			today = local
		}
	}
	if !clientToday.IsZero() && clientToday.After(today) {
		today = clientToday
	}
	if limit := DateOf(now.In(latestZone)); today.After(limit) {
		today = limit
	}
	return today
}

func positiveInt(v RawValue, limit int) (int, Reason) {
	if v.Blank() {
		return 0, ReasonMissing
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
	if err != nil {
		return 0, ReasonNotNumeric
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, ReasonNotInteger
	}
	if f <= 0 {
		return 0, ReasonNotPositive
	}
	if f > float64(limit) {
		return 0, ReasonOutOfRange
	}
	return int(f), ""
}
