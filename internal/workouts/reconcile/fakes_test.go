package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/cache"
	"github.com/2beens/liftlog/internal/workouts/remote"
)

var errConnRefused = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

type memCache struct {
	mu        sync.Mutex
	snapshots map[cache.Key]*cache.Snapshot
	failSave  bool
	saves     int
}

func newMemCache() *memCache {
	return &memCache{snapshots: make(map[cache.Key]*cache.Snapshot)}
}

func (c *memCache) Load(_ context.Context, key cache.Key) (*cache.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot, ok := c.snapshots[key]
	if !ok {
		return cache.EmptySnapshot(), nil
	}
	return copySnapshot(snapshot), nil
}

func (c *memCache) Save(_ context.Context, key cache.Key, snapshot *cache.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSave {
		return errors.New("disk full")
	}
	c.saves++
	c.snapshots[key] = copySnapshot(snapshot)
	return nil
}

func (c *memCache) Clear(_ context.Context, key cache.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, key)
	return nil
}

func (c *memCache) get(key cache.Key) *cache.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot, ok := c.snapshots[key]
	if !ok {
		return cache.EmptySnapshot()
	}
	return copySnapshot(snapshot)
}

func copySnapshot(s *cache.Snapshot) *cache.Snapshot {
	return &cache.Snapshot{
		Version:    s.Version,
		Entries:    append([]workouts.Entry{}, s.Entries...),
		Tombstones: append([]workouts.Tombstone{}, s.Tombstones...),
	}
}

// memRemote behaves like the remote store: server assigned ids and a unique
// (user, client ref) pair.
type memRemote struct {
	mu     sync.Mutex
	rows   []workouts.Record
	nextID int

	failFetch  bool
	failInsert bool
	// loseInsertResponse stores the row but reports a failure
	loseInsertResponse bool
	failDelete         map[string]bool
	beforeInsert       func(workouts.Record)

	inserts      int
	batchInserts int
	deletes      int
}

var _ remote.Store = (*memRemote)(nil)

func newMemRemote() *memRemote {
	return &memRemote{failDelete: make(map[string]bool)}
}

func (m *memRemote) FetchRecords(_ context.Context, userID string, _ remote.Filters) ([]workouts.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFetch {
		return nil, errConnRefused
	}
	var out []workouts.Record
	for _, row := range m.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memRemote) InsertRecord(_ context.Context, record workouts.Record) (*workouts.Record, error) {
	if m.beforeInsert != nil {
		m.beforeInsert(record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	inserted, err := m.insertLocked([]workouts.Record{record})
	if err != nil {
		return nil, err
	}
	return &inserted[0], nil
}

func (m *memRemote) InsertRecords(_ context.Context, records []workouts.Record) ([]workouts.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchInserts++
	return m.insertLocked(records)
}

func (m *memRemote) insertLocked(records []workouts.Record) ([]workouts.Record, error) {
	if m.failInsert {
		return nil, errConnRefused
	}
	for _, r := range records {
		if !r.WellFormed() {
			return nil, fmt.Errorf("%w: sets_positive", workouts.ErrConstraintViolation)
		}
	}

	out := make([]workouts.Record, 0, len(records))
	for _, r := range records {
		if existing := m.byClientRefLocked(r.UserID, r.ClientRef); existing != nil {
			out = append(out, *existing)
			continue
		}
		m.nextID++
		r.ID = fmt.Sprintf("srv-%d", m.nextID)
		m.rows = append(m.rows, r)
		out = append(out, r)
	}

	if m.loseInsertResponse {
		return nil, context.DeadlineExceeded
	}
	return out, nil
}

func (m *memRemote) DeleteRecord(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failDelete[id] {
		return errConnRefused
	}
	for i, row := range m.rows {
		if row.ID == id && row.UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return workouts.ErrNotFound
}

func (m *memRemote) byClientRefLocked(userID, clientRef string) *workouts.Record {
	for i := range m.rows {
		if m.rows[i].UserID == userID && m.rows[i].ClientRef == clientRef {
			return &m.rows[i]
		}
	}
	return nil
}

func (m *memRemote) snapshot() []workouts.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]workouts.Record{}, m.rows...)
}

func (m *memRemote) seed(userID, exercise string, sets, reps, weight int, date workouts.Date) workouts.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r := workouts.Record{
		ID:          fmt.Sprintf("srv-%d", m.nextID),
		UserID:      userID,
		ClientRef:   fmt.Sprintf("other-device-%d", m.nextID),
		Exercise:    exercise,
		Sets:        sets,
		Reps:        reps,
		Weight:      weight,
		WorkoutDate: date,
		CreatedAt:   time.Date(2024, 3, 1, 8, 0, m.nextID, 0, time.UTC),
	}
	m.rows = append(m.rows, r)
	return r
}

func (m *memRemote) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
