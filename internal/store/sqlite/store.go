// Package sqlite is the single-node persistence driver. Timestamps are stored
// as unix nanoseconds and structured columns as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/gosuda/inkboard/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db     *sql.DB
	boards *BoardRepo
	canvas *CanvasRepo
}

// Open opens the database at path and applies pending migrations. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}

	// One connection serialises writers and keeps a :memory: database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite.Open: %s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		boards: &BoardRepo{db: db},
		canvas: &CanvasRepo{db: db},
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	dir, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite.migrate: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, dir)
	if err != nil {
		return fmt.Errorf("sqlite.migrate: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqlite.migrate: up: %w", err)
	}
	for _, r := range results {
		log.Debug().Str("migration", r.Source.Path).Dur("took", r.Duration).Msg("sqlite: migration applied")
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite.Ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Boards() domain.BoardRepository  { return s.boards }
func (s *Store) Canvas() domain.CanvasRepository { return s.canvas }

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
