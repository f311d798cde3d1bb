//go:build integration_test || all_tests

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2beens/liftlog/internal/middleware"
	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/handler"
	"github.com/2beens/liftlog/internal/workouts/stats"
	testingpkg "github.com/2beens/liftlog/pkg/testing"

	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) doRequest(
	ctx context.Context,
	userID, method, path, body string,
) (int, []byte) {
	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, strings.NewReader(body))
	require.NoError(s.T(), err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.DeviceHeader, "integration-device")
	req.Header.Set("Authorization", testingpkg.BearerToken(s.T(), testJWTSecret, testIssuer, userID))

	resp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(s.T(), err)
	return resp.StatusCode, respBytes
}

func (s *IntegrationTestSuite) countRows(userID string) int {
	var count int
	err := s.DB.QueryRow("SELECT count(*) FROM workouts WHERE user_id = $1", userID).Scan(&count)
	require.NoError(s.T(), err)
	return count
}

func (s *IntegrationTestSuite) insertRow(userID, clientRef, exercise string, weight int, date string) string {
	var id string
	err := s.DB.QueryRow(
		`INSERT INTO workouts (user_id, client_ref, exercise, sets, reps, weight, workout_date)
			VALUES ($1, $2, $3, 3, 5, $4, $5) RETURNING id::text`,
		userID, clientRef, exercise, weight, date,
	).Scan(&id)
	require.NoError(s.T(), err)
	return id
}

func (s *IntegrationTestSuite) TestWorkouts_AddStatsDelete() {
	ctx := context.Background()
	userID := "flow-user"

	status, body := s.doRequest(ctx, userID, "POST", "/workouts",
		`{"exercise":"Bench Press","sets":3,"reps":10,"weight":135,"workoutDate":"2024-03-15","notes":"felt strong"}`)
	s.Require().Equal(http.StatusCreated, status, string(body))

	var added handler.WorkoutResponse
	s.Require().NoError(json.Unmarshal(body, &added))
	s.Empty(added.SyncError)
	s.Equal(workouts.StatusSynced, added.Workout.Status)
	s.Equal(userID, added.Workout.UserID)
	s.Equal(1, s.countRows(userID))

	var storedNotes string
	s.Require().NoError(s.DB.QueryRow("SELECT notes FROM workouts WHERE id = $1", added.Workout.ID).Scan(&storedNotes))
	s.Equal("felt strong", storedNotes)

	status, body = s.doRequest(ctx, userID, "GET", "/workouts/stats?period=30&today=2024-03-20", "")
	s.Require().Equal(http.StatusOK, status, string(body))
	var snapshot stats.Snapshot
	s.Require().NoError(json.Unmarshal(body, &snapshot))
	s.Equal(int64(4050), snapshot.TotalVolume)
	s.Equal(1, snapshot.PeriodWorkoutCount)

	status, body = s.doRequest(ctx, userID, "DELETE", "/workouts/"+added.Workout.ID, "")
	s.Require().Equal(http.StatusOK, status, string(body))
	s.Equal(0, s.countRows(userID))

	status, body = s.doRequest(ctx, userID, "GET", "/workouts", "")
	s.Require().Equal(http.StatusOK, status)
	var list handler.ListResponse
	s.Require().NoError(json.Unmarshal(body, &list))
	s.Equal(0, list.Total)
}

func (s *IntegrationTestSuite) TestWorkouts_ReloadPicksUpRemoteRows() {
	ctx := context.Background()
	userID := "reload-user"

	firstID := s.insertRow(userID, "other-device-1", "Squat", 225, "2024-03-10")
	// rows of other users never leak
	s.insertRow("someone-else", "other-device-1", "Deadlift", 315, "2024-03-10")

	// the first request for a user reloads from the remote store
	status, body := s.doRequest(ctx, userID, "GET", "/workouts", "")
	s.Require().Equal(http.StatusOK, status, string(body))
	var list handler.ListResponse
	s.Require().NoError(json.Unmarshal(body, &list))
	s.Require().Equal(1, list.Total)
	s.Equal(firstID, list.Workouts[0].ID)
	s.Equal(workouts.StatusSynced, list.Workouts[0].Status)

	s.insertRow(userID, "other-device-2", "Squat", 235, "2024-03-12")

	status, body = s.doRequest(ctx, userID, "POST", "/workouts/reload", "")
	s.Require().Equal(http.StatusOK, status, string(body))
	var reloaded handler.ReloadResponse
	s.Require().NoError(json.Unmarshal(body, &reloaded))
	s.Require().NotNil(reloaded.Result)
	s.Equal(2, reloaded.Result.Fetched)
	s.Equal(1, reloaded.Result.Added)
	s.Len(reloaded.Workouts, 2)
	s.Equal("2024-03-12", reloaded.Workouts[0].WorkoutDate.String())
}

func (s *IntegrationTestSuite) TestWorkouts_ExportImportClear() {
	ctx := context.Background()
	userID := "backup-user"

	for i, weight := range []int{185, 205} {
		status, body := s.doRequest(ctx, userID, "POST", "/workouts", fmt.Sprintf(
			`{"exercise":"Deadlift","sets":1,"reps":5,"weight":%d,"workoutDate":"2024-03-0%d"}`, weight, i+1))
		s.Require().Equal(http.StatusCreated, status, string(body))
	}

	status, exported := s.doRequest(ctx, userID, "GET", "/workouts/export", "")
	s.Require().Equal(http.StatusOK, status)

	status, body := s.doRequest(ctx, userID, "DELETE", "/workouts", "")
	s.Require().Equal(http.StatusOK, status, string(body))
	s.JSONEq(`{"cleared":2}`, string(body))
	s.Equal(0, s.countRows(userID))

	status, body = s.doRequest(ctx, userID, "POST", "/workouts/import", string(exported))
	s.Require().Equal(http.StatusCreated, status, string(body))
	s.JSONEq(`{"imported":2}`, string(body))
	s.Equal(2, s.countRows(userID))

	status, body = s.doRequest(ctx, userID, "GET", "/workouts/bests", "")
	s.Require().Equal(http.StatusOK, status)
	var bests []stats.PersonalBest
	s.Require().NoError(json.Unmarshal(body, &bests))
	s.Require().Len(bests, 1)
	s.Equal("Deadlift", bests[0].Exercise)
	s.Equal(239, bests[0].OneRepMax)
}
