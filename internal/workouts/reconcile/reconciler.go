package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/2beens/liftlog/internal/backup"
	"github.com/2beens/liftlog/internal/telemetry/metrics"
	"github.com/2beens/liftlog/internal/telemetry/tracing"
	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/cache"
	"github.com/2beens/liftlog/internal/workouts/remote"
	"github.com/2beens/liftlog/internal/workouts/stats"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// ReloadResult describes what a reload changed in the local view.
type ReloadResult struct {
	Fetched    int `json:"fetched"`
	Added      int `json:"added"`
	Adopted    int `json:"adopted"`
	Dropped    int `json:"dropped"`
	Suppressed int `json:"suppressed"`
	Pending    int `json:"pending"`
}

type NewReconcilerParams struct {
	Key            cache.Key
	Cache          cache.Store
	Remote         remote.Store
	Validator      *workouts.Validator
	MetricsManager *metrics.Manager
	// RemoteTimeout bounds every remote call; zero means no extra bound.
	RemoteTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

// Reconciler keeps one device's view of one user's workouts consistent
// between the local cache and the remote store.
//
// The mutex guards the in-memory view and is held while the cache is written,
// never while the remote store is called.
type Reconciler struct {
	key            cache.Key
	cache          cache.Store
	remote         remote.Store
	validator      *workouts.Validator
	metricsManager *metrics.Manager
	remoteTimeout  time.Duration
	now            func() time.Time
	newID          func() string

	mu         sync.Mutex
	entries    []workouts.Entry
	tombstones []workouts.Tombstone
	// client refs with a remote insert in flight
	inflight map[string]int
	// confirmSeq orders push confirmations so a reload does not drop records
	// confirmed after its fetch started
	confirmSeq  uint64
	confirmedAt map[string]uint64
}

func NewReconciler(params NewReconcilerParams) *Reconciler {
	r := &Reconciler{
		key:            params.Key,
		cache:          params.Cache,
		remote:         params.Remote,
		validator:      params.Validator,
		metricsManager: params.MetricsManager,
		remoteTimeout:  params.RemoteTimeout,
		now:            params.Now,
		newID:          params.NewID,
		entries:        []workouts.Entry{},
		tombstones:     []workouts.Tombstone{},
		inflight:       make(map[string]int),
		confirmedAt:    make(map[string]uint64),
	}
	if r.validator == nil {
		r.validator = workouts.NewValidator(false)
	}
	if r.metricsManager == nil {
		r.metricsManager = metrics.NewTestManager()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

func (r *Reconciler) Key() cache.Key {
	return r.key
}

func (r *Reconciler) UserID() string {
	return r.key.UserID
}

// Load replaces the in-memory view with what the local cache holds.
func (r *Reconciler) Load(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reconciler.load")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	snapshot, err := r.cache.Load(ctx, r.key)
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]workouts.Entry{}, snapshot.Entries...)
	r.tombstones = append([]workouts.Tombstone{}, snapshot.Tombstones...)
	span.SetAttributes(attribute.Int("entries.count", len(r.entries)))
	return nil
}

// Stage gives the draft a client id and makes it visible as pending. Nothing
// is staged if the local cache cannot be written.
func (r *Reconciler) Stage(ctx context.Context, draft workouts.Draft) (_ workouts.Entry, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reconciler.stage")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	entry := workouts.Entry{
		Record: draft.Record(r.newID(), r.key.UserID, r.now()),
		Status: workouts.StatusPending,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if err := r.saveLocked(ctx); err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		return workouts.Entry{}, err
	}

	r.metricsManager.CounterWorkoutsAdded.Inc()
	span.SetAttributes(attribute.String("workout.id", entry.Record.ID))
	return entry, nil
}

// Push writes a pending record to the remote store. On failure the record
// stays pending and visible.
func (r *Reconciler) Push(ctx context.Context, id string) (_ workouts.Entry, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reconciler.push")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("workout.id", id))

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return workouts.Entry{}, workouts.ErrNotFound
	}
	entry := r.entries[i]
	if entry.Status != workouts.StatusPending {
		r.mu.Unlock()
		return entry, nil
	}
	r.inflight[entry.Record.ClientRef]++
	r.mu.Unlock()

	remoteCtx, cancel := r.remoteContext(ctx)
	inserted, insertErr := r.remote.InsertRecord(remoteCtx, entry.Record)
	cancel()

	r.mu.Lock()
	r.doneInflightLocked(entry.Record.ClientRef)
	if insertErr != nil {
		defer r.mu.Unlock()
		return r.pushFailedLocked(entry, insertErr)
	}

	confirmed, deleted := r.confirmLocked(ctx, *inserted)
	r.mu.Unlock()

	if deleted {
		r.retryDeletes(ctx, []string{inserted.ID})
		return workouts.Entry{}, workouts.ErrNotFound
	}
	return confirmed, nil
}

// Add stages the draft and pushes it. When the push fails the returned entry
// is still valid and pending.
func (r *Reconciler) Add(ctx context.Context, draft workouts.Draft) (workouts.Entry, error) {
	entry, err := r.Stage(ctx, draft)
	if err != nil {
		return workouts.Entry{}, err
	}
	pushed, err := r.Push(ctx, entry.Record.ID)
	if err != nil {
		return entry, err
	}
	return pushed, nil
}

// Delete removes the record from the local view at once. The remote delete
// may fail afterwards; the local removal stands. A record missing from the
// view is deleted remotely only, and ErrNotDeleted reports that it failed.
func (r *Reconciler) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reconciler.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("workout.id", id))

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		err := r.deleteRemote(ctx, id)
		if err != nil && !errors.Is(err, workouts.ErrNotFound) {
			return fmt.Errorf("%w: %w", workouts.ErrNotDeleted, err)
		}
		return err
	}

	entry := r.entries[i]
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	r.tombstones = append(r.tombstones, workouts.Tombstone{
		ID:        entry.Record.ID,
		ClientRef: entry.Record.ClientRef,
	})
	r.saveOrLogLocked(ctx)
	r.mu.Unlock()
	r.metricsManager.CounterWorkoutsDeleted.Inc()

	// a pending record is deleted remotely once it shows up there
	if entry.Status == workouts.StatusPending {
		return nil
	}

	if failed := r.retryDeletes(ctx, []string{entry.Record.ID}); len(failed) > 0 {
		return failed[0]
	}
	return nil
}

// Clear deletes every record in the view. Remote failures are combined.
func (r *Reconciler) Clear(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reconciler.clear")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	r.mu.Lock()
	var toDelete []string
	for _, entry := range r.entries {
		r.tombstones = append(r.tombstones, workouts.Tombstone{
			ID:        entry.Record.ID,
			ClientRef: entry.Record.ClientRef,
		})
		if entry.Status != workouts.StatusPending {
			toDelete = append(toDelete, entry.Record.ID)
		}
	}
	cleared := len(r.entries)
	r.entries = []workouts.Entry{}
	r.saveOrLogLocked(ctx)
	r.mu.Unlock()

	r.metricsManager.CounterWorkoutsDeleted.Add(float64(cleared))
	span.SetAttributes(attribute.Int("entries.count", cleared))

	return multierr.Combine(r.retryDeletes(ctx, toDelete)...)
}

// Reload merges the remote store's records into the view. When the remote
// store cannot be read the view is left as it is.
func (r *Reconciler) Reload(ctx context.Context) (_ ReloadResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reconciler.reload")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	start := time.Now()
	r.metricsManager.CounterReloads.Inc()
	defer func() {
		r.metricsManager.HistReloadDuration.Observe(time.Since(start).Seconds())
	}()

	r.mu.Lock()
	fetchSeq := r.confirmSeq
	r.mu.Unlock()

	remoteCtx, cancel := r.remoteContext(ctx)
	fetched, fetchErr := r.remote.FetchRecords(remoteCtx, r.key.UserID, remote.Filters{})
	cancel()
	if fetchErr != nil {
		r.metricsManager.CounterSyncFailures.WithLabelValues("reload").Inc()
		log.WithField("key", r.key.String()).Warnf("reload: fetch remote records: %s", fetchErr)
		return ReloadResult{}, fmt.Errorf("%w: %w", workouts.ErrRemoteUnavailable, fetchErr)
	}

	r.mu.Lock()
	result, toDelete, toPush := r.mergeLocked(ctx, fetched, fetchSeq)
	r.mu.Unlock()

	if len(toDelete) > 0 {
		_ = r.retryDeletes(ctx, toDelete)
	}
	for _, id := range toPush {
		if _, err := r.Push(ctx, id); err != nil {
			log.WithField("key", r.key.String()).Debugf("reload: re-push %s: %s", id, err)
		}
	}

	r.mu.Lock()
	result.Pending = r.countLocked(workouts.StatusPending)
	r.mu.Unlock()

	span.SetAttributes(
		attribute.Int("reload.fetched", result.Fetched),
		attribute.Int("reload.added", result.Added),
		attribute.Int("reload.pending", result.Pending),
	)
	return result, nil
}

func (r *Reconciler) mergeLocked(ctx context.Context, fetched []workouts.Record, fetchSeq uint64) (ReloadResult, []string, []string) {
	result := ReloadResult{Fetched: len(fetched)}

	var toDelete []string
	matchedTombstone := make([]bool, len(r.tombstones))
	matchedLocal := make([]bool, len(r.entries))
	merged := make([]workouts.Entry, 0, len(fetched)+len(r.entries))

	for _, rec := range fetched {
		if ti := r.tombstoneLocked(rec); ti >= 0 {
			// the server id is what the remote delete needs
			r.tombstones[ti].ID = rec.ID
			matchedTombstone[ti] = true
			toDelete = append(toDelete, rec.ID)
			result.Suppressed++
			continue
		}

		li := -1
		for i, local := range r.entries {
			if matchedLocal[i] {
				continue
			}
			if local.Record.ID == rec.ID ||
				(local.Status == workouts.StatusPending && rec.ClientRef != "" && local.Record.ClientRef == rec.ClientRef) {
				li = i
				break
			}
		}

		if li < 0 {
			merged = append(merged, workouts.Entry{Record: rec, Status: workouts.StatusRemoteOnly})
			result.Added++
			continue
		}

		matchedLocal[li] = true
		local := r.entries[li]
		event := workouts.EventRefreshed
		if local.Status == workouts.StatusPending {
			event = workouts.EventPushConfirmed
			result.Adopted++
		}
		status, err := local.Status.Transition(event)
		if err != nil {
			log.Errorf("reload: %s: %s", rec.ID, err)
			status = workouts.StatusSynced
		}
		merged = append(merged, workouts.Entry{Record: rec, Status: status})
	}

	var toPush []string
	for i, local := range r.entries {
		if matchedLocal[i] {
			continue
		}
		if local.Status == workouts.StatusPending {
			merged = append(merged, local)
			if r.inflight[local.Record.ClientRef] == 0 {
				toPush = append(toPush, local.Record.ID)
			}
			continue
		}
		if r.confirmedAt[local.Record.ID] > fetchSeq {
			merged = append(merged, local)
			continue
		}
		result.Dropped++
	}
	for id, seq := range r.confirmedAt {
		if seq <= fetchSeq {
			delete(r.confirmedAt, id)
		}
	}

	// tombstones nothing refers to any more are done, unless an insert
	// is still in flight and may yet create the record
	kept := make([]workouts.Tombstone, 0, len(r.tombstones))
	for i, t := range r.tombstones {
		if matchedTombstone[i] || r.inflight[t.ClientRef] > 0 {
			kept = append(kept, t)
		}
	}

	r.entries = merged
	r.tombstones = kept

	if err := r.saveLocked(ctx); err != nil {
		log.WithField("key", r.key.String()).Errorf("reload: fetched records stay remote-only: %s", err)
		return result, toDelete, toPush
	}
	for i := range r.entries {
		if r.entries[i].Status != workouts.StatusRemoteOnly {
			continue
		}
		if status, err := r.entries[i].Status.Transition(workouts.EventCached); err == nil {
			r.entries[i].Status = status
		}
	}

	return result, toDelete, toPush
}

// Import validates every entry of a backup before anything is changed. The
// valid batch is staged locally and pushed all or nothing.
func (r *Reconciler) Import(ctx context.Context, data []byte) (_ []workouts.Entry, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reconciler.import")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	submissions, err := backup.Decode(data)
	if err != nil {
		return nil, err
	}

	drafts := make([]workouts.Draft, 0, len(submissions))
	for i, sub := range submissions {
		draft, err := r.validator.Validate(sub)
		if err != nil {
			return nil, &workouts.ImportFormatError{Index: i, Err: err}
		}
		drafts = append(drafts, draft)
	}
	span.SetAttributes(attribute.Int("import.count", len(drafts)))
	if len(drafts) == 0 {
		return []workouts.Entry{}, nil
	}

	now := r.now()
	staged := make([]workouts.Entry, 0, len(drafts))
	records := make([]workouts.Record, 0, len(drafts))
	for _, draft := range drafts {
		rec := draft.Record(r.newID(), r.key.UserID, now)
		staged = append(staged, workouts.Entry{Record: rec, Status: workouts.StatusPending})
		records = append(records, rec)
	}

	r.mu.Lock()
	before := len(r.entries)
	r.entries = append(r.entries, staged...)
	if err := r.saveLocked(ctx); err != nil {
		r.entries = r.entries[:before]
		r.mu.Unlock()
		return nil, err
	}
	for _, rec := range records {
		r.inflight[rec.ClientRef]++
	}
	r.mu.Unlock()
	r.metricsManager.CounterWorkoutsImported.Add(float64(len(records)))

	remoteCtx, cancel := r.remoteContext(ctx)
	inserted, insertErr := r.remote.InsertRecords(remoteCtx, records)
	cancel()

	r.mu.Lock()
	for _, rec := range records {
		r.doneInflightLocked(rec.ClientRef)
	}
	if insertErr != nil {
		defer r.mu.Unlock()
		r.metricsManager.CounterSyncFailures.WithLabelValues("import").Inc()
		if errors.Is(insertErr, workouts.ErrConstraintViolation) {
			return staged, insertErr
		}
		return staged, fmt.Errorf("%w: %w", workouts.ErrRemoteUnavailable, insertErr)
	}

	result := make([]workouts.Entry, 0, len(inserted))
	var toDelete []string
	for _, rec := range inserted {
		confirmed, deleted := r.confirmLocked(ctx, rec)
		if deleted {
			toDelete = append(toDelete, rec.ID)
			continue
		}
		result = append(result, confirmed)
	}
	r.mu.Unlock()

	if len(toDelete) > 0 {
		_ = r.retryDeletes(ctx, toDelete)
	}
	return result, nil
}

// Export returns a backup of the current view.
func (r *Reconciler) Export() *backup.Document {
	return backup.NewDocument(r.Records(), r.now())
}

// View returns the entries newest workout first.
func (r *Reconciler) View() []workouts.Entry {
	r.mu.Lock()
	view := append([]workouts.Entry{}, r.entries...)
	r.mu.Unlock()

	sort.SliceStable(view, func(i, j int) bool {
		a, b := view[i].Record, view[j].Record
		if !a.WorkoutDate.Equal(b.WorkoutDate) {
			return a.WorkoutDate.After(b.WorkoutDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return view
}

func (r *Reconciler) Records() []workouts.Record {
	view := r.View()
	records := make([]workouts.Record, 0, len(view))
	for _, entry := range view {
		records = append(records, entry.Record)
	}
	return records
}

func (r *Reconciler) Stats(today workouts.Date, period stats.Period) stats.Snapshot {
	return stats.Compute(r.Records(), today, period)
}

func (r *Reconciler) History(exercise string) []stats.HistoryPoint {
	return stats.ExerciseHistory(r.Records(), exercise)
}

func (r *Reconciler) Bests() []stats.PersonalBest {
	return stats.PersonalBests(r.Records())
}

func (r *Reconciler) WeeklyVolume(today workouts.Date, weeks int) []stats.WeekVolume {
	return stats.WeeklyVolume(r.Records(), today, weeks)
}

func (r *Reconciler) Tombstones() []workouts.Tombstone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]workouts.Tombstone{}, r.tombstones...)
}

// confirmLocked applies a successful insert. It reports true when the record
// was deleted locally while the insert was in flight.
func (r *Reconciler) confirmLocked(ctx context.Context, inserted workouts.Record) (workouts.Entry, bool) {
	if ti := r.tombstoneLocked(inserted); ti >= 0 {
		r.tombstones[ti].ID = inserted.ID
		r.saveOrLogLocked(ctx)
		return workouts.Entry{}, true
	}

	i := r.indexLocked(inserted.ClientRef)
	if i < 0 {
		// a reload got there first and the record is already synced
		i = r.indexLocked(inserted.ID)
	}
	if i < 0 {
		log.WithField("key", r.key.String()).Warnf("confirmed record %s is not in the view", inserted.ID)
		return workouts.Entry{Record: inserted, Status: workouts.StatusSynced}, false
	}

	entry := r.entries[i]
	if entry.Status != workouts.StatusPending {
		return entry, false
	}
	status, err := entry.Status.Transition(workouts.EventPushConfirmed)
	if err != nil {
		log.Errorf("confirm %s: %s", inserted.ID, err)
		return entry, false
	}
	if inserted.ClientRef == "" {
		inserted.ClientRef = entry.Record.ClientRef
	}
	r.entries[i] = workouts.Entry{Record: inserted, Status: status}
	r.confirmSeq++
	r.confirmedAt[inserted.ID] = r.confirmSeq
	r.saveOrLogLocked(ctx)
	return r.entries[i], false
}

func (r *Reconciler) pushFailedLocked(entry workouts.Entry, insertErr error) (workouts.Entry, error) {
	r.metricsManager.CounterSyncFailures.WithLabelValues("push").Inc()
	log.WithField("key", r.key.String()).Warnf("push %s: %s", entry.Record.ID, insertErr)

	if i := r.indexLocked(entry.Record.ClientRef); i >= 0 {
		if status, err := r.entries[i].Status.Transition(workouts.EventPushFailed); err == nil {
			r.entries[i].Status = status
		}
		entry = r.entries[i]
	}

	if errors.Is(insertErr, workouts.ErrConstraintViolation) {
		return entry, insertErr
	}
	return entry, fmt.Errorf("%w: %w", workouts.ErrRemoteUnavailable, insertErr)
}

// retryDeletes deletes the ids remotely and drops the tombstones of those that
// are gone. It returns one error per id that could not be deleted.
func (r *Reconciler) retryDeletes(ctx context.Context, ids []string) []error {
	var (
		failed []error
		done   = make(map[string]bool)
	)
	for _, id := range ids {
		err := r.deleteRemote(ctx, id)
		if err == nil || errors.Is(err, workouts.ErrNotFound) {
			done[id] = true
			continue
		}
		failed = append(failed, fmt.Errorf("delete %s: %w", id, err))
	}
	if len(done) == 0 {
		return failed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tombstones[:0]
	for _, t := range r.tombstones {
		if !done[t.ID] {
			kept = append(kept, t)
		}
	}
	r.tombstones = kept
	r.saveOrLogLocked(ctx)
	return failed
}

func (r *Reconciler) deleteRemote(ctx context.Context, id string) error {
	remoteCtx, cancel := r.remoteContext(ctx)
	defer cancel()

	err := r.remote.DeleteRecord(remoteCtx, id, r.key.UserID)
	if err == nil || errors.Is(err, workouts.ErrNotFound) {
		return err
	}
	r.metricsManager.CounterSyncFailures.WithLabelValues("delete").Inc()
	return fmt.Errorf("%w: %w", workouts.ErrRemoteUnavailable, err)
}

func (r *Reconciler) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.remoteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.remoteTimeout)
}

func (r *Reconciler) saveLocked(ctx context.Context) error {
	snapshot := &cache.Snapshot{
		Version:    workouts.SchemaVersion,
		Entries:    r.entries,
		Tombstones: r.tombstones,
	}
	if err := r.cache.Save(ctx, r.key, snapshot); err != nil {
		r.metricsManager.CounterSyncFailures.WithLabelValues("cache").Inc()
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

// saveOrLogLocked is used where the in-memory change must stand even when
// the cache write fails; the next successful save persists it.
func (r *Reconciler) saveOrLogLocked(ctx context.Context) {
	if err := r.saveLocked(ctx); err != nil {
		log.WithField("key", r.key.String()).Error(err)
	}
}

func (r *Reconciler) doneInflightLocked(clientRef string) {
	if r.inflight[clientRef] <= 1 {
		delete(r.inflight, clientRef)
		return
	}
	r.inflight[clientRef]--
}

// indexLocked finds an entry by its current id or the id it was created with.
func (r *Reconciler) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, entry := range r.entries {
		if entry.Record.ID == id || entry.Record.ClientRef == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) tombstoneLocked(rec workouts.Record) int {
	for i, t := range r.tombstones {
		if t.Matches(rec) {
			return i
		}
	}
	return -1
}

func (r *Reconciler) countLocked(status workouts.Status) int {
	n := 0
	for _, entry := range r.entries {
		if entry.Status == status {
			n++
		}
	}
	return n
}
