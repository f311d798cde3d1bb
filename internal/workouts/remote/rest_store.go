package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2beens/liftlog/internal/auth"
	"github.com/2beens/liftlog/internal/telemetry/tracing"
	"github.com/2beens/liftlog/internal/workouts"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const workoutsPath = "/rest/v1/workouts"

type restRow struct {
	ID          string        `json:"id,omitempty"`
	UserID      string        `json:"user_id"`
	ClientRef   string        `json:"client_ref"`
	Exercise    string        `json:"exercise"`
	Sets        int           `json:"sets"`
	Reps        int           `json:"reps"`
	Weight      int           `json:"weight"`
	WorkoutDate workouts.Date `json:"workout_date"`
	Notes       *string       `json:"notes"`
	CreatedAt   *time.Time    `json:"created_at,omitempty"`
}

type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func toRestRow(r workouts.Record) restRow {
	row := restRow{
		UserID:      r.UserID,
		ClientRef:   r.ClientRef,
		Exercise:    r.Exercise,
		Sets:        r.Sets,
		Reps:        r.Reps,
		Weight:      r.Weight,
		WorkoutDate: r.WorkoutDate,
		Notes:       r.Notes,
	}
	if !r.CreatedAt.IsZero() {
		createdAt := r.CreatedAt
		row.CreatedAt = &createdAt
	}
	return row
}

func (row restRow) record() workouts.Record {
	r := workouts.Record{
		ID:          row.ID,
		UserID:      row.UserID,
		ClientRef:   row.ClientRef,
		Exercise:    row.Exercise,
		Sets:        row.Sets,
		Reps:        row.Reps,
		Weight:      row.Weight,
		WorkoutDate: row.WorkoutDate,
		Notes:       row.Notes,
	}
	if row.CreatedAt != nil {
		r.CreatedAt = row.CreatedAt.UTC()
	}
	return r
}

// RestStore talks to a PostgREST style data API. Row level security on the
// other side scopes every call to the user the bearer token belongs to; the
// user_id filters are sent as well so a service key behaves the same.
type RestStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRestStore(baseURL, apiKey string, httpClient *http.Client) *RestStore {
	return &RestStore{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (s *RestStore) FetchRecords(ctx context.Context, userID string, filters Filters) (_ []workouts.Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "rest.workouts.fetch")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.id", userID))

	query := url.Values{}
	query.Set("select", "*")
	query.Set("user_id", "eq."+userID)
	query.Set("order", "workout_date.desc,created_at.desc,id.desc")
	if filters.StartDate != nil {
		query.Add("workout_date", "gte."+filters.StartDate.String())
	}
	if filters.EndDate != nil {
		query.Add("workout_date", "lte."+filters.EndDate.String())
	}
	if filters.Limit > 0 {
		query.Set("limit", strconv.Itoa(filters.Limit))
	}

	var rows []restRow
	if err := s.do(ctx, http.MethodGet, query, nil, "", &rows); err != nil {
		return nil, err
	}

	records := make([]workouts.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	span.SetAttributes(attribute.Int("records.count", len(records)))
	return records, nil
}

func (s *RestStore) InsertRecord(ctx context.Context, record workouts.Record) (_ *workouts.Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "rest.workouts.insert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("workout.client_ref", record.ClientRef))

	inserted, err := s.insert(ctx, []workouts.Record{record})
	if err != nil {
		return nil, err
	}
	if len(inserted) != 1 {
		return nil, fmt.Errorf("expected 1 inserted row, got %d", len(inserted))
	}
	return &inserted[0], nil
}

// InsertRecords sends the batch as one request; the data API inserts it in a
// single statement.
func (s *RestStore) InsertRecords(ctx context.Context, records []workouts.Record) (_ []workouts.Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "rest.workouts.insert-batch")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("records.count", len(records)))

	if len(records) == 0 {
		return []workouts.Record{}, nil
	}

	inserted, err := s.insert(ctx, records)
	if err != nil {
		return nil, err
	}
	if len(inserted) != len(records) {
		return nil, fmt.Errorf("expected %d inserted rows, got %d", len(records), len(inserted))
	}
	return inserted, nil
}

func (s *RestStore) insert(ctx context.Context, records []workouts.Record) ([]workouts.Record, error) {
	rows := make([]restRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRestRow(r))
	}

	query := url.Values{}
	query.Set("on_conflict", "user_id,client_ref")

	var insertedRows []restRow
	if err := s.do(
		ctx, http.MethodPost, query, rows,
		"return=representation,resolution=merge-duplicates",
		&insertedRows,
	); err != nil {
		return nil, err
	}

	inserted := make([]workouts.Record, 0, len(insertedRows))
	for _, row := range insertedRows {
		inserted = append(inserted, row.record())
	}
	return inserted, nil
}

func (s *RestStore) DeleteRecord(ctx context.Context, id, userID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "rest.workouts.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("workout.id", id),
		attribute.String("user.id", userID),
	)

	query := url.Values{}
	query.Set("id", "eq."+id)
	query.Set("user_id", "eq."+userID)

	var deleted []restRow
	if err := s.do(ctx, http.MethodDelete, query, nil, "return=representation", &deleted); err != nil {
		return err
	}
	if len(deleted) == 0 {
		return workouts.ErrNotFound
	}
	return nil
}

func (s *RestStore) do(ctx context.Context, method string, query url.Values, body any, prefer string, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	endpoint := s.baseURL + workoutsPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}

	token, ok := auth.TokenFromContext(ctx)
	if !ok {
		token = s.apiKey
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("data api request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Errorf("close data api response body: %s", err)
		}
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read data api response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return restStatusError(resp.StatusCode, respBytes)
	}

	if out == nil || len(bytes.TrimSpace(respBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("decode data api response: %w", err)
	}
	return nil
}

func restStatusError(statusCode int, body []byte) error {
	var apiErr restError
	_ = json.Unmarshal(body, &apiErr)

	switch apiErr.Code {
	case "23514", "23502":
		return fmt.Errorf("%w: %s", workouts.ErrConstraintViolation, apiErr.Message)
	case "22P02":
		return workouts.ErrNotFound
	}

	if statusCode == http.StatusNotFound {
		return workouts.ErrNotFound
	}
	return fmt.Errorf("data api returned status %d: %s", statusCode, apiErr.Message)
}
