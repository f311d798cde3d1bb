package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer builds an MCP server with read only workout stats tools for one user.
func NewServer(records RecordsSource, userID string) *mcp.Server {
	h := NewHandler(NewStatsService(records, userID))
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "liftlog-stats",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_workouts_schema",
		Description: "Returns the workouts table definition and how volume is computed. Use when you need to know which fields a logged workout has.",
	}, h.GetSchemaTool())

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_workout_stats",
		Description: "Returns dashboard stats for a lookback period: workout count, total volume, average weight, volume per day and the most frequent exercises. Args: optional period (today, 7, 30, 90) and today (YYYY-MM-DD).",
	}, h.GetWorkoutStatsTool())

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_personal_bests",
		Description: "Returns the best estimated one rep max (Epley) per exercise, with the workout it came from, highest first.",
	}, h.GetPersonalBestsTool())

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_exercise_history",
		Description: "Returns per-day stats (avg weight, avg reps, sets, volume) for one exercise. Args: exercise; optional from_date, to_date (YYYY-MM-DD). Use when you need progression over time (e.g. how has bench press improved).",
	}, h.GetExerciseHistoryTool())

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_weekly_volume",
		Description: "Returns total volume per ISO week, oldest week first. Args: optional weeks (1-104, default 12) and today (YYYY-MM-DD).",
	}, h.GetWeeklyVolumeTool())

	return s
}
