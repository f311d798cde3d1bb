package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/liftlog/internal/workouts"
)

// Document is the backup file format. Import also accepts a bare array of
// workouts.
type Document struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exportedAt"`
	Workouts   []workouts.Record `json:"workouts"`
}

func NewDocument(records []workouts.Record, exportedAt time.Time) *Document {
	if records == nil {
		records = []workouts.Record{}
	}
	return &Document{
		Version:    workouts.SchemaVersion,
		ExportedAt: exportedAt.UTC(),
		Workouts:   records,
	}
}

func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

type rawDocument struct {
	Workouts []json.RawMessage `json:"workouts"`
}

// Decode reads the workouts of a backup as unvalidated submissions.
// Any entry that is not a JSON object fails the whole document.
func Decode(data []byte) ([]workouts.Submission, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &workouts.ImportFormatError{Index: -1, Err: errors.New("empty document")}
	}

	var entries []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, &workouts.ImportFormatError{Index: -1, Err: err}
		}
	case '{':
		var doc rawDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, &workouts.ImportFormatError{Index: -1, Err: err}
		}
		if doc.Workouts == nil {
			return nil, &workouts.ImportFormatError{Index: -1, Err: errors.New("no workouts list")}
		}
		entries = doc.Workouts
	default:
		return nil, &workouts.ImportFormatError{Index: -1, Err: errors.New("not a json object or array")}
	}

	submissions := make([]workouts.Submission, 0, len(entries))
	for i, entry := range entries {
		entry = bytes.TrimSpace(entry)
		if len(entry) == 0 || entry[0] != '{' {
			return nil, &workouts.ImportFormatError{Index: i, Err: errors.New("entry is not an object")}
		}
		var sub workouts.Submission
		if err := json.Unmarshal(entry, &sub); err != nil {
			return nil, &workouts.ImportFormatError{Index: i, Err: fmt.Errorf("decode entry: %w", err)}
		}
		submissions = append(submissions, sub)
	}

	return submissions, nil
}
