package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/2beens/liftlog/internal/auth"
	"github.com/2beens/liftlog/internal/workouts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDataAPI mimics the subset of the data API the store uses.
type fakeDataAPI struct {
	mu       sync.Mutex
	rows     []restRow
	nextID   int
	failWith int
	requests []*http.Request
}

func (f *fakeDataAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Clone(context.Background()))

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = w.Write([]byte(`{"code":"PGRST000","message":"down"}`))
		return
	}
	if r.URL.Path != workoutsPath {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	switch r.Method {
	case http.MethodGet:
		var out []restRow
		for _, row := range f.rows {
			if "eq."+row.UserID == q.Get("user_id") {
				out = append(out, row)
			}
		}
		if out == nil {
			out = []restRow{}
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var in []restRow
		if err := json.Unmarshal(body, &in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var out []restRow
		for _, row := range in {
			if row.Sets <= 0 || row.Reps <= 0 || row.Weight <= 0 {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":"23514","message":"new row violates check constraint"}`))
				return
			}
			existing := -1
			for i, stored := range f.rows {
				if stored.UserID == row.UserID && stored.ClientRef == row.ClientRef {
					existing = i
				}
			}
			if existing >= 0 {
				out = append(out, f.rows[existing])
				continue
			}
			f.nextID++
			row.ID = "srv-" + string(rune('0'+f.nextID))
			if row.CreatedAt == nil {
				now := time.Now().UTC()
				row.CreatedAt = &now
			}
			f.rows = append(f.rows, row)
			out = append(out, row)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodDelete:
		var out []restRow
		var kept []restRow
		for _, row := range f.rows {
			if "eq."+row.ID == q.Get("id") && "eq."+row.UserID == q.Get("user_id") {
				out = append(out, row)
				continue
			}
			kept = append(kept, row)
		}
		f.rows = kept
		if out == nil {
			out = []restRow{}
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

func newTestRestStore(t *testing.T) (*RestStore, *fakeDataAPI) {
	t.Helper()
	api := &fakeDataAPI{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return NewRestStore(server.URL+"/", "anon-key", server.Client()), api
}

func testRecord(clientRef string) workouts.Record {
	return workouts.Record{
		ID:          clientRef,
		UserID:      "user-1",
		ClientRef:   clientRef,
		Exercise:    "Bench Press",
		Sets:        3,
		Reps:        10,
		Weight:      135,
		WorkoutDate: workouts.NewDate(2024, time.March, 15),
		CreatedAt:   time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
	}
}

func TestRestStore_InsertFetchDelete(t *testing.T) {
	store, api := newTestRestStore(t)
	ctx := auth.NewContext(context.Background(), auth.Identity{UserID: "user-1"}, "user-token")

	inserted, err := store.InsertRecord(ctx, testRecord("cli-1"))
	require.NoError(t, err)
	assert.Equal(t, "srv-1", inserted.ID)
	assert.Equal(t, "cli-1", inserted.ClientRef)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), inserted.CreatedAt)

	// replaying the same client ref returns the stored row
	again, err := store.InsertRecord(ctx, testRecord("cli-1"))
	require.NoError(t, err)
	assert.Equal(t, "srv-1", again.ID)

	records, err := store.FetchRecords(ctx, "user-1", Filters{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2024-03-15", records[0].WorkoutDate.String())

	others, err := store.FetchRecords(ctx, "user-2", Filters{})
	require.NoError(t, err)
	assert.Empty(t, others)

	require.NoError(t, store.DeleteRecord(ctx, "srv-1", "user-1"))
	require.ErrorIs(t, store.DeleteRecord(ctx, "srv-1", "user-1"), workouts.ErrNotFound)

	api.mu.Lock()
	defer api.mu.Unlock()
	first := api.requests[0]
	assert.Equal(t, "anon-key", first.Header.Get("apikey"))
	assert.Equal(t, "Bearer user-token", first.Header.Get("Authorization"))
	assert.Equal(t, "return=representation,resolution=merge-duplicates", first.Header.Get("Prefer"))
	assert.Equal(t, "user_id,client_ref", first.URL.Query().Get("on_conflict"))
}

func TestRestStore_FetchFilters(t *testing.T) {
	store, api := newTestRestStore(t)
	start := workouts.NewDate(2024, time.March, 1)
	end := workouts.NewDate(2024, time.March, 31)

	_, err := store.FetchRecords(context.Background(), "user-1", Filters{StartDate: &start, EndDate: &end, Limit: 50})
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	req := api.requests[0]
	q := req.URL.Query()
	assert.Equal(t, []string{"gte.2024-03-01", "lte.2024-03-31"}, q["workout_date"])
	assert.Equal(t, "50", q.Get("limit"))
	assert.Equal(t, "workout_date.desc,created_at.desc,id.desc", q.Get("order"))
	// no user token in the context, the api key is the bearer
	assert.Equal(t, "Bearer anon-key", req.Header.Get("Authorization"))
}

func TestRestStore_InsertRecords_AllOrNothing(t *testing.T) {
	store, api := newTestRestStore(t)
	ctx := context.Background()

	bad := testRecord("cli-2")
	bad.Sets = 0
	_, err := store.InsertRecords(ctx, []workouts.Record{testRecord("cli-1"), bad})
	require.ErrorIs(t, err, workouts.ErrConstraintViolation)

	api.mu.Lock()
	assert.Empty(t, api.rows)
	api.mu.Unlock()

	inserted, err := store.InsertRecords(ctx, []workouts.Record{testRecord("cli-1"), testRecord("cli-2")})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotEqual(t, inserted[0].ID, inserted[1].ID)

	empty, err := store.InsertRecords(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRestStore_Unavailable(t *testing.T) {
	store, api := newTestRestStore(t)
	api.failWith = http.StatusServiceUnavailable

	_, err := store.FetchRecords(context.Background(), "user-1", Filters{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, workouts.ErrNotFound))
	assert.Contains(t, err.Error(), "503")
}
