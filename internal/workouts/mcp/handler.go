package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/stats"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler handles MCP tool requests and responses: parses input, calls the service, formats MCP result.
type Handler struct {
	service statsService
}

func NewHandler(service statsService) *Handler {
	return &Handler{
		service: service,
	}
}

// GetSchemaTool returns the MCP tool handler for get_workouts_schema.
func (h *Handler) GetSchemaTool() func(context.Context, *mcp.CallToolRequest, any) (*mcp.CallToolResult, any, error) {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
		return textResult(h.service.GetSchema()), nil, nil
	}
}

// WorkoutStatsInput is the input for get_workout_stats.
type WorkoutStatsInput struct {
	Period string `json:"period,omitempty" jsonschema:"One of today, 7, 30, 90 (default 7)"`
	Today  string `json:"today,omitempty" jsonschema:"The user's current date (YYYY-MM-DD), defaults to the server date"`
}

// GetWorkoutStatsTool returns the MCP tool handler for get_workout_stats.
func (h *Handler) GetWorkoutStatsTool() func(context.Context, *mcp.CallToolRequest, WorkoutStatsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in WorkoutStatsInput) (*mcp.CallToolResult, any, error) {
		period, err := stats.ParsePeriod(in.Period)
		if err != nil {
			return errorResult("Invalid period: use one of today, 7, 30, 90"), nil, nil
		}
		today, ok := optionalDate(in.Today)
		if !ok {
			return errorResult("Invalid today: use YYYY-MM-DD"), nil, nil
		}

		snapshot, err := h.service.GetStats(ctx, period, today)
		if err != nil {
			return errorResult("Error computing stats: " + err.Error()), nil, nil
		}
		return jsonResult(snapshot), nil, nil
	}
}

// GetPersonalBestsTool returns the MCP tool handler for get_personal_bests.
func (h *Handler) GetPersonalBestsTool() func(context.Context, *mcp.CallToolRequest, any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
		bests, err := h.service.GetPersonalBests(ctx)
		if err != nil {
			return errorResult("Error fetching personal bests: " + err.Error()), nil, nil
		}
		return jsonResult(bests), nil, nil
	}
}

// ExerciseHistoryInput is the input for get_exercise_history.
type ExerciseHistoryInput struct {
	Exercise string `json:"exercise" jsonschema:"Exercise name exactly as logged (e.g. Bench Press)"`
	FromDate string `json:"from_date,omitempty" jsonschema:"Start date (YYYY-MM-DD)"`
	ToDate   string `json:"to_date,omitempty" jsonschema:"End date (YYYY-MM-DD)"`
}

// GetExerciseHistoryTool returns the MCP tool handler for get_exercise_history.
func (h *Handler) GetExerciseHistoryTool() func(context.Context, *mcp.CallToolRequest, ExerciseHistoryInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in ExerciseHistoryInput) (*mcp.CallToolResult, any, error) {
		exercise := strings.TrimSpace(in.Exercise)
		if exercise == "" {
			return errorResult("Missing exercise"), nil, nil
		}
		from, ok := optionalDate(in.FromDate)
		if !ok {
			return errorResult("Invalid from_date: use YYYY-MM-DD"), nil, nil
		}
		to, ok := optionalDate(in.ToDate)
		if !ok {
			return errorResult("Invalid to_date: use YYYY-MM-DD"), nil, nil
		}

		history, err := h.service.GetExerciseHistory(ctx, exercise, from, to)
		if err != nil {
			return errorResult("Error fetching exercise history: " + err.Error()), nil, nil
		}
		return jsonResult(history), nil, nil
	}
}

// WeeklyVolumeInput is the input for get_weekly_volume.
type WeeklyVolumeInput struct {
	Weeks int    `json:"weeks,omitempty" jsonschema:"Number of weeks, 1 to 104 (default 12)"`
	Today string `json:"today,omitempty" jsonschema:"The user's current date (YYYY-MM-DD), defaults to the server date"`
}

// GetWeeklyVolumeTool returns the MCP tool handler for get_weekly_volume.
func (h *Handler) GetWeeklyVolumeTool() func(context.Context, *mcp.CallToolRequest, WeeklyVolumeInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in WeeklyVolumeInput) (*mcp.CallToolResult, any, error) {
		weeks := in.Weeks
		if weeks == 0 {
			weeks = 12
		}
		if weeks < 0 || weeks > 104 {
			return errorResult("Invalid weeks: use 1 to 104"), nil, nil
		}
		today, ok := optionalDate(in.Today)
		if !ok {
			return errorResult("Invalid today: use YYYY-MM-DD"), nil, nil
		}

		series, err := h.service.GetWeeklyVolume(ctx, weeks, today)
		if err != nil {
			return errorResult("Error computing weekly volume: " + err.Error()), nil, nil
		}
		return jsonResult(series), nil, nil
	}
}

func optionalDate(s string) (*workouts.Date, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}
	d, err := workouts.ParseDate(s)
	if err != nil {
		return nil, false
	}
	return &d, true
}

func jsonResult(v any) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("Error encoding response: " + err.Error())
	}
	return textResult(string(raw))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
