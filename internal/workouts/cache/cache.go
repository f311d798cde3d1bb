package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2beens/liftlog/internal/workouts"

	log "github.com/sirupsen/logrus"
)

const keyPrefix = "liftlog"

// Key scopes a cached payload to one user on one device.
type Key struct {
	UserID   string
	DeviceID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s||v%d||%s||%s", keyPrefix, workouts.SchemaVersion, k.UserID, k.DeviceID)
}

// Snapshot is everything a device keeps about a user's workouts.
type Snapshot struct {
	Version    int                  `json:"version"`
	Entries    []workouts.Entry     `json:"entries"`
	Tombstones []workouts.Tombstone `json:"tombstones"`
}

func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Version:    workouts.SchemaVersion,
		Entries:    []workouts.Entry{},
		Tombstones: []workouts.Tombstone{},
	}
}

// Store is the durable per-device mirror. Load of an unknown key returns an
// empty snapshot.
type Store interface {
	Load(ctx context.Context, key Key) (*Snapshot, error)
	Save(ctx context.Context, key Key, snapshot *Snapshot) error
	Clear(ctx context.Context, key Key) error
}

func encode(snapshot *Snapshot) ([]byte, error) {
	toStore := *snapshot
	toStore.Version = workouts.SchemaVersion
	if toStore.Entries == nil {
		toStore.Entries = []workouts.Entry{}
	}
	if toStore.Tombstones == nil {
		toStore.Tombstones = []workouts.Tombstone{}
	}
	return json.Marshal(toStore)
}

// decode treats a payload written under another schema version as empty.
func decode(key Key, data []byte) (*Snapshot, error) {
	snapshot := &Snapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("decode cached snapshot [%s]: %w", key, err)
	}
	if snapshot.Version != workouts.SchemaVersion {
		log.Warnf("cached snapshot [%s] has version %d, expected %d, ignoring it", key, snapshot.Version, workouts.SchemaVersion)
		return EmptySnapshot(), nil
	}
	if snapshot.Entries == nil {
		snapshot.Entries = []workouts.Entry{}
	}
	if snapshot.Tombstones == nil {
		snapshot.Tombstones = []workouts.Tombstone{}
	}
	return snapshot, nil
}
