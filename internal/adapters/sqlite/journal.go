// Package sqlite keeps the command journal in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/internal/ports"
	"github.com/bft-labs/meshrelay/pkg/log"
)

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 20

// Journal implements ports.Journal.
type Journal struct {
	db     *sql.DB
	logger log.Logger
}

// Open opens or creates the journal at path. Parent directories are created
// if needed.
func Open(path string, logger log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	j := &Journal{db: db, logger: logger.With(log.String("component", "journal"))}
	if err := j.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	j.logger.Info("journal opened", log.String("path", path))
	return j, nil
}

func (j *Journal) createSchema() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			origin TEXT NOT NULL,
			channel INTEGER NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			submitted_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commands_completed
			ON commands(completed_at);
	`)
	return err
}

// Record stores a finished command. Recording the same ID again replaces it.
func (j *Journal) Record(ctx context.Context, rec domain.CommandRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO commands
			(id, origin, channel, question, answer, status, error, submitted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Origin, int(rec.Channel), rec.Question, rec.Answer,
		string(rec.Status), rec.Error,
		rec.SubmittedAt.UnixNano(), rec.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recording command %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, origin, channel, question, answer, status, error, submitted_at, completed_at
		FROM commands
		ORDER BY completed_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandRecord
	for rows.Next() {
		var (
			rec                  domain.CommandRecord
			channel              int
			status               string
			submitted, completed int64
		)
		if err := rows.Scan(&rec.ID, &rec.Origin, &channel, &rec.Question, &rec.Answer,
			&status, &rec.Error, &submitted, &completed); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		rec.Channel = uint8(channel)
		rec.Status = domain.CommandStatus(status)
		rec.SubmittedAt = time.Unix(0, submitted)
		rec.CompletedAt = time.Unix(0, completed)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Count returns the number of recorded commands.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting commands: %w", err)
	}
	return n, nil
}

// Prune deletes the oldest commands so that at most keep remain. It returns
// the number of rows removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := j.db.ExecContext(ctx, `
		DELETE FROM commands WHERE id NOT IN (
			SELECT id FROM commands ORDER BY completed_at DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning commands: %w", err)
	}
	return res.RowsAffected()
}

var _ ports.Journal = (*Journal)(nil)
