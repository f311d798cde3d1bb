package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2beens/liftlog/internal/auth"
	"github.com/2beens/liftlog/internal/middleware"
	"github.com/2beens/liftlog/internal/telemetry/tracing"
	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/reconcile"
	"github.com/2beens/liftlog/internal/workouts/stats"
	"github.com/2beens/liftlog/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const defaultWeeks = 12

type sessionProvider interface {
	Session(ctx context.Context, identity auth.Identity, deviceID string) (*reconcile.Reconciler, error)
}

type ErrorResponse struct {
	Error  string                `json:"error"`
	Fields []workouts.FieldError `json:"fields,omitempty"`
	Index  *int                  `json:"index,omitempty"`
}

// Workout is a record as the API shows it, with its sync status.
type Workout struct {
	workouts.Record
	Status workouts.Status `json:"status"`
}

type WorkoutResponse struct {
	Workout   Workout `json:"workout"`
	SyncError string  `json:"syncError,omitempty"`
}

type ListResponse struct {
	Workouts []Workout `json:"workouts"`
	Total    int       `json:"total"`
}

type DeleteResponse struct {
	DeletedID string `json:"deletedId"`
	SyncError string `json:"syncError,omitempty"`
}

type ClearResponse struct {
	Cleared   int    `json:"cleared"`
	SyncError string `json:"syncError,omitempty"`
}

type ReloadResponse struct {
	Result    *reconcile.ReloadResult `json:"result,omitempty"`
	Workouts  []Workout               `json:"workouts"`
	SyncError string                  `json:"syncError,omitempty"`
}

type ImportResponse struct {
	Imported  int    `json:"imported"`
	SyncError string `json:"syncError,omitempty"`
}

type MeResponse struct {
	UserID   string `json:"userId"`
	Email    string `json:"email,omitempty"`
	DeviceID string `json:"deviceId"`
}

type Handler struct {
	sessions  sessionProvider
	validator *workouts.Validator
	now       func() time.Time
}

func NewHandler(sessions sessionProvider, validator *workouts.Validator) *Handler {
	return &Handler{
		sessions:  sessions,
		validator: validator,
		now:       time.Now,
	}
}

func (handler *Handler) session(w http.ResponseWriter, r *http.Request) (*reconcile.Reconciler, bool) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "unauthenticated", http.StatusUnauthorized)
		return nil, false
	}

	session, err := handler.sessions.Session(r.Context(), identity, middleware.DeviceFromContext(r.Context()))
	if err != nil {
		log.Errorf("open session for %s: %s", identity.UserID, err)
		writeError(w, "local store unavailable", http.StatusInternalServerError)
		return nil, false
	}
	return session, true
}

func (handler *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.add")
	defer span.End()

	if !strings.HasPrefix(r.Header.Get("Content-Type"), pkg.ContentType.JSON) {
		writeError(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var sub workouts.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		log.Tracef("add workout, unmarshal json: %s", err)
		writeError(w, "invalid json", http.StatusBadRequest)
		return
	}

	var clientToday workouts.Date
	if todayStr := r.URL.Query().Get("today"); todayStr != "" {
		parsed, err := workouts.ParseDate(todayStr)
		if err != nil {
			writeError(w, "error, invalid today date", http.StatusBadRequest)
			return
		}
		clientToday = parsed
	}

	draft, err := handler.validator.ValidateOn(sub, clientToday)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	entry, err := session.Add(ctx, draft)
	switch {
	case err == nil:
		pkg.WriteJSON(w, WorkoutResponse{Workout: toWorkout(entry)}, http.StatusCreated)
	case errors.Is(err, workouts.ErrNotFound):
		writeError(w, "workout already removed", http.StatusNotFound)
	case entry.Record.ID != "":
		// kept locally as pending
		span.SetAttributes(attribute.String("sync.error", err.Error()))
		pkg.WriteJSON(w, WorkoutResponse{Workout: toWorkout(entry), SyncError: err.Error()}, http.StatusCreated)
	default:
		log.Errorf("add workout: %s", err)
		writeError(w, "failed to add workout", http.StatusInternalServerError)
	}
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.list")
	defer span.End()

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	list := toWorkouts(session.View())
	pkg.WriteJSON(w, ListResponse{Workouts: list, Total: len(list)}, http.StatusOK)
}

func (handler *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.delete")
	defer span.End()

	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, "error, id empty", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("workout.id", id))

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	err := session.Delete(ctx, id)
	switch {
	case err == nil:
		pkg.WriteJSON(w, DeleteResponse{DeletedID: id}, http.StatusOK)
	case errors.Is(err, workouts.ErrNotFound):
		writeError(w, "workout already removed", http.StatusNotFound)
	case errors.Is(err, workouts.ErrNotDeleted):
		log.Warnf("delete workout %s: %s", id, err)
		writeError(w, "workout not deleted, remote store unavailable", http.StatusServiceUnavailable)
	default:
		pkg.WriteJSON(w, DeleteResponse{DeletedID: id, SyncError: err.Error()}, http.StatusOK)
	}
}

func (handler *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.clear")
	defer span.End()

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	count := len(session.View())
	resp := ClearResponse{Cleared: count}
	if err := session.Clear(ctx); err != nil {
		resp.SyncError = err.Error()
	}
	pkg.WriteJSON(w, resp, http.StatusOK)
}

func (handler *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.reload")
	defer span.End()

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	resp := ReloadResponse{}
	result, err := session.Reload(ctx)
	if err != nil {
		resp.SyncError = err.Error()
	} else {
		resp.Result = &result
	}
	resp.Workouts = toWorkouts(session.View())
	pkg.WriteJSON(w, resp, http.StatusOK)
}

func (handler *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.stats")
	defer span.End()

	period, err := stats.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	today, ok := handler.today(w, r)
	if !ok {
		return
	}

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	pkg.WriteJSON(w, session.Stats(today, period), http.StatusOK)
}

func (handler *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.history")
	defer span.End()

	exercise := strings.TrimSpace(mux.Vars(r)["exercise"])
	if exercise == "" {
		writeError(w, "error, exercise empty", http.StatusBadRequest)
		return
	}

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	pkg.WriteJSON(w, session.History(exercise), http.StatusOK)
}

func (handler *Handler) HandleBests(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.bests")
	defer span.End()

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	pkg.WriteJSON(w, session.Bests(), http.StatusOK)
}

func (handler *Handler) HandleWeekly(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.weekly")
	defer span.End()

	weeks := defaultWeeks
	if weeksStr := r.URL.Query().Get("weeks"); weeksStr != "" {
		parsed, err := strconv.Atoi(weeksStr)
		if err != nil || parsed <= 0 || parsed > 104 {
			writeError(w, "error, weeks must be between 1 and 104", http.StatusBadRequest)
			return
		}
		weeks = parsed
	}
	today, ok := handler.today(w, r)
	if !ok {
		return
	}

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	pkg.WriteJSON(w, session.WeeklyVolume(today, weeks), http.StatusOK)
}

func (handler *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.export")
	defer span.End()

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	data, err := session.Export().Encode()
	if err != nil {
		log.Errorf("export workouts: %s", err)
		writeError(w, "failed to export workouts", http.StatusInternalServerError)
		return
	}

	fileName := fmt.Sprintf("liftlog-%s.json", workouts.DateOf(handler.now()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, data, http.StatusOK)
}

func (handler *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.import")
	defer span.End()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, "backup too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "failed to read backup", http.StatusBadRequest)
		return
	}

	session, ok := handler.session(w, r)
	if !ok {
		return
	}

	imported, err := session.Import(ctx, data)
	var formatErr *workouts.ImportFormatError
	switch {
	case err == nil:
		pkg.WriteJSON(w, ImportResponse{Imported: len(imported)}, http.StatusCreated)
	case errors.As(err, &formatErr):
		resp := ErrorResponse{Error: formatErr.Error()}
		if formatErr.Index >= 0 {
			resp.Index = &formatErr.Index
		}
		var validationErr *workouts.ValidationError
		if errors.As(err, &validationErr) {
			resp.Fields = validationErr.Fields
		}
		pkg.WriteJSON(w, resp, http.StatusUnprocessableEntity)
	case len(imported) > 0:
		pkg.WriteJSON(w, ImportResponse{Imported: len(imported), SyncError: err.Error()}, http.StatusCreated)
	default:
		log.Errorf("import workouts: %s", err)
		writeError(w, "failed to import workouts", http.StatusInternalServerError)
	}
}

func (handler *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	pkg.WriteJSON(w, MeResponse{
		UserID:   identity.UserID,
		Email:    identity.Email,
		DeviceID: middleware.DeviceFromContext(r.Context()),
	}, http.StatusOK)
}

// today is the client's date when it sends one, so a late evening workout
// is not counted on the next UTC day.
func (handler *Handler) today(w http.ResponseWriter, r *http.Request) (workouts.Date, bool) {
	todayStr := r.URL.Query().Get("today")
	if todayStr == "" {
		return workouts.DateOf(handler.now()), true
	}
	today, err := workouts.ParseDate(todayStr)
	if err != nil {
		writeError(w, "error, invalid today date", http.StatusBadRequest)
		return workouts.Date{}, false
	}
	return today, true
}

func toWorkout(entry workouts.Entry) Workout {
	return Workout{Record: entry.Record, Status: entry.Status}
}

func toWorkouts(entries []workouts.Entry) []Workout {
	list := make([]Workout, 0, len(entries))
	for _, entry := range entries {
		list = append(list, toWorkout(entry))
	}
	return list
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	pkg.WriteJSON(w, ErrorResponse{Error: message}, statusCode)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var validationErr *workouts.ValidationError
	if !errors.As(err, &validationErr) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	pkg.WriteJSON(w, ErrorResponse{
		Error:  "validation failed",
		Fields: validationErr.Fields,
	}, http.StatusBadRequest)
}
