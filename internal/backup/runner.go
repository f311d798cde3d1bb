package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/2beens/liftlog/internal/telemetry/metrics"
	"github.com/2beens/liftlog/internal/telemetry/tracing"
	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/remote"
	"github.com/2beens/liftlog/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// fileName replaces path unsafe characters so any user id stays inside the
// backup dir.
func fileName(userID string, at time.Time) string {
	return fmt.Sprintf("liftlog-%s-%s.json", unsafeNameChars.ReplaceAllString(userID, "_"), at.UTC().Format("20060102T150405"))
}

type recordsSource interface {
	FetchRecords(ctx context.Context, userID string, filters remote.Filters) ([]workouts.Record, error)
}

type uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

type RunParams struct {
	Source recordsSource
	UserID string
	OutDir string
	// Uploader is optional; without it the backup only lands in OutDir.
	Uploader       uploader
	MetricsManager *metrics.Manager
	Now            func() time.Time
}

type Result struct {
	Path   string
	FileID string
	Count  int
}

// Run exports every workout the remote store holds for the user into a
// backup file, and uploads it when an uploader is set.
func Run(ctx context.Context, params RunParams) (_ Result, err error) {
	ctx, span := tracing.GlobalBackupTracer.Start(ctx, "backup.run")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.id", params.UserID))

	if params.Now == nil {
		params.Now = time.Now
	}
	started := params.Now()
	if params.MetricsManager != nil {
		defer func() {
			params.MetricsManager.HistBackupDuration.Observe(time.Since(started).Seconds())
		}()
	}

	records, err := params.Source.FetchRecords(ctx, params.UserID, remote.Filters{})
	if err != nil {
		return Result{}, fmt.Errorf("fetch workouts: %w", err)
	}

	data, err := NewDocument(records, started).Encode()
	if err != nil {
		return Result{}, fmt.Errorf("encode backup: %w", err)
	}

	if err := pkg.EnsureDir(params.OutDir); err != nil {
		return Result{}, fmt.Errorf("backup dir: %w", err)
	}
	name := fileName(params.UserID, started)
	path := filepath.Join(params.OutDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Result{}, fmt.Errorf("write backup: %w", err)
	}
	log.Debugf("backup of %d workouts written to %s", len(records), path)

	result := Result{Path: path, Count: len(records)}
	if params.Uploader == nil {
		return result, nil
	}

	result.FileID, err = params.Uploader.Upload(ctx, name, data)
	if err != nil {
		return result, fmt.Errorf("upload backup: %w", err)
	}
	span.SetAttributes(attribute.String("backup.file_id", result.FileID))
	return result, nil
}
