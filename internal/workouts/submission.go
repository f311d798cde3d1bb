package workouts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawValue is a submitted field as received: a JSON string, a JSON number or
// nothing at all. Validation decides what it means.
type RawValue struct {
	present bool
	quoted  bool
	text    string
}

// Raw builds a RawValue from a Go value; nil yields an absent value.
func Raw(v any) RawValue {
	switch val := v.(type) {
	case nil:
		return RawValue{}
	case string:
		return RawValue{present: true, quoted: true, text: val}
	case *string:
		if val == nil {
			return RawValue{}
		}
		return RawValue{present: true, quoted: true, text: *val}
	case int:
		return RawValue{present: true, text: strconv.Itoa(val)}
	case int64:
		return RawValue{present: true, text: strconv.FormatInt(val, 10)}
	case float64:
		return RawValue{present: true, text: strconv.FormatFloat(val, 'f', -1, 64)}
	default:
		return RawValue{present: true, text: fmt.Sprint(val)}
	}
}

func (v RawValue) Present() bool {
	return v.present
}

// Blank reports a missing value or one that is only whitespace.
func (v RawValue) Blank() bool {
	return !v.present || strings.TrimSpace(v.text) == ""
}

func (v RawValue) String() string {
	return v.text
}

func (v *RawValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = RawValue{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = RawValue{present: true, quoted: true, text: s}
		return nil
	}
	*v = RawValue{present: true, text: string(trimmed)}
	return nil
}

func (v RawValue) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	if v.quoted {
		return json.Marshal(v.text)
	}
	return []byte(v.text), nil
}

// Submission is an unvalidated workout as sent by a client or read from a backup.
type Submission struct {
	Exercise    RawValue `json:"exercise"`
	Sets        RawValue `json:"sets"`
	Reps        RawValue `json:"reps"`
	Weight      RawValue `json:"weight"`
	WorkoutDate RawValue `json:"workoutDate"`
	Notes       RawValue `json:"notes"`
}

// SubmissionOf turns a stored record back into a submission, used when
// re-validating exported data.
func SubmissionOf(r Record) Submission {
	return Submission{
		Exercise:    Raw(r.Exercise),
		Sets:        Raw(r.Sets),
		Reps:        Raw(r.Reps),
		Weight:      Raw(r.Weight),
		WorkoutDate: Raw(r.WorkoutDate.String()),
		Notes:       Raw(r.Notes),
	}
}
