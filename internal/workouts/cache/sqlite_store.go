package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/2beens/liftlog/internal/telemetry/tracing"
	"github.com/2beens/liftlog/pkg"

	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

const sqliteFileName = "liftlog-cache.db"

// SQLiteStore keeps snapshots in a single kv table, for single node setups.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(ctx context.Context, dataDir string) (*SQLiteStore, error) {
	if err := pkg.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, sqliteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	// sqlite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare sqlite cache: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key Key) (_ *Snapshot, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "cache.sqlite.load")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("cache.key", key.String()))

	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return EmptySnapshot(), nil
	}
	if err != nil {
		return nil, err
	}

	return decode(key, data)
}

func (s *SQLiteStore) Save(ctx context.Context, key Key, snapshot *Snapshot) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "cache.sqlite.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("cache.key", key.String()),
		attribute.Int("cache.entries", len(snapshot.Entries)),
	)

	data, err := encode(snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key.String(), data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context, key Key) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "cache.sqlite.clear")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("cache.key", key.String()))

	_, err = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key.String())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
