package workouts

import (
	"time"
)

// SchemaVersion versions the locally cached payload. Bumping it makes every
// existing device cache load as empty.
const SchemaVersion = 1

// Record is one logged exercise performance.
type Record struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	// ClientRef is the id the record was created with on the client. The remote
	// store keeps it unique per user, so a replayed insert returns the same row.
	ClientRef   string    `json:"clientRef,omitempty"`
	Exercise    string    `json:"exercise"`
	Sets        int       `json:"sets"`
	Reps        int       `json:"reps"`
	Weight      int       `json:"weight"`
	WorkoutDate Date      `json:"workoutDate"`
	Notes       *string   `json:"notes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WellFormed reports whether sets, reps and weight are all positive.
func (r Record) WellFormed() bool {
	return r.Sets > 0 && r.Reps > 0 && r.Weight > 0
}

// Volume is sets * reps * weight.
func (r Record) Volume() int64 {
	return int64(r.Sets) * int64(r.Reps) * int64(r.Weight)
}

// Draft is a validated submission that has no identity yet.
type Draft struct {
	Exercise    string
	Sets        int
	Reps        int
	Weight      int
	WorkoutDate Date
	Notes       *string
}

func (d Draft) Record(id, userID string, createdAt time.Time) Record {
	return Record{
		ID:          id,
		UserID:      userID,
		ClientRef:   id,
		Exercise:    d.Exercise,
		Sets:        d.Sets,
		Reps:        d.Reps,
		Weight:      d.Weight,
		WorkoutDate: d.WorkoutDate,
		Notes:       d.Notes,
		CreatedAt:   createdAt.UTC(),
	}
}

// Entry is a record as held by a device, tagged with its sync status.
type Entry struct {
	Record Record `json:"record"`
	Status Status `json:"status"`
}

// Tombstone marks a locally deleted record whose remote delete has not been
// confirmed yet. ID may still be the client-assigned id.
type Tombstone struct {
	ID        string `json:"id"`
	ClientRef string `json:"clientRef,omitempty"`
}

func (t Tombstone) Matches(r Record) bool {
	if t.ID != "" && (t.ID == r.ID || t.ID == r.ClientRef) {
		return true
	}
	return t.ClientRef != "" && (t.ClientRef == r.ID || t.ClientRef == r.ClientRef)
}
