// Package sqlite provides a SQLite-backed pipeline storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/hivemind/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/storage"
	"github.com/louisbranch/hivemind/internal/services/pipeline/storage/sqlite/migrations"
)

const defaultListLimit = 50

// Store persists pipeline history and contributor stats in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite pipeline store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendEntry inserts one history record. Re-appending the same entry ID is
// a no-op.
func (s *Store) AppendEntry(ctx context.Context, entry storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("entry id is required")
	}
	if entry.Kind != storage.EntryKindPrompt && entry.Kind != storage.EntryKindActionSet {
		return fmt.Errorf("unknown entry kind %q", entry.Kind)
	}
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO history_entries (
		   id, kind, prompt_id, action_set_id, submitter_id, text, outcome, reason, detail, recorded_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		string(entry.Kind),
		entry.PromptID,
		entry.ActionSetID,
		entry.SubmitterID,
		entry.Text,
		entry.Outcome,
		entry.Reason,
		entry.Detail,
		toMillis(recordedAt),
	)
	if err != nil {
		return fmt.Errorf("append history entry: %w", err)
	}
	return nil
}

// ListEntries returns history records, newest first.
func (s *Store) ListEntries(ctx context.Context, query storage.Query) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if query.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(query.Kind))
	}
	if query.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, query.Outcome)
	}
	stmt := `SELECT id, kind, prompt_id, action_set_id, submitter_id, text, outcome, reason, detail, recorded_at
	           FROM history_entries`
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	defer rows.Close()

	entries := make([]storage.Entry, 0, limit)
	for rows.Next() {
		var entry storage.Entry
		var kind string
		var recordedAt int64
		if err := rows.Scan(
			&entry.ID,
			&kind,
			&entry.PromptID,
			&entry.ActionSetID,
			&entry.SubmitterID,
			&entry.Text,
			&entry.Outcome,
			&entry.Reason,
			&entry.Detail,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("list history entries: %w", err)
		}
		entry.Kind = storage.EntryKind(kind)
		entry.RecordedAt = fromMillis(recordedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	return entries, nil
}

// RecordSubmission upserts the contributor and bumps the submission counter.
// A non-empty display name replaces the stored one.
func (s *Store) RecordSubmission(ctx context.Context, contributorID, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	contributorID = strings.TrimSpace(contributorID)
	if contributorID == "" {
		return fmt.Errorf("contributor id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO contributors (id, display_name, submissions, wins, votes)
		 VALUES (?, ?, 1, 0, 0)
		 ON CONFLICT(id) DO UPDATE SET
		   submissions = submissions + 1,
		   display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE display_name END`,
		contributorID,
		strings.TrimSpace(displayName),
	)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// RecordWin bumps the win counter.
func (s *Store) RecordWin(ctx context.Context, contributorID string) error {
	return s.bump(ctx, contributorID, "wins")
}

// RecordVote bumps the cast-vote counter.
func (s *Store) RecordVote(ctx context.Context, contributorID string) error {
	return s.bump(ctx, contributorID, "votes")
}

func (s *Store) bump(ctx context.Context, contributorID, column string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	contributorID = strings.TrimSpace(contributorID)
	if contributorID == "" {
		return fmt.Errorf("contributor id is required")
	}

	stmt := fmt.Sprintf(
		`INSERT INTO contributors (id, display_name, submissions, wins, votes)
		 VALUES (?, '', 0, %[1]s, %[2]s)
		 ON CONFLICT(id) DO UPDATE SET %[3]s = %[3]s + 1`,
		boolToCount(column == "wins"),
		boolToCount(column == "votes"),
		column,
	)
	if _, err := s.sqlDB.ExecContext(ctx, stmt, contributorID); err != nil {
		return fmt.Errorf("record %s: %w", column, err)
	}
	return nil
}

func boolToCount(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// TopContributors returns contributors ranked by wins, then submissions.
func (s *Store) TopContributors(ctx context.Context, limit int) ([]domain.Contributor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, display_name, submissions, wins, votes
		   FROM contributors
		  ORDER BY wins DESC, submissions DESC, id ASC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list top contributors: %w", err)
	}
	defer rows.Close()

	contributors := make([]domain.Contributor, 0, limit)
	for rows.Next() {
		var c domain.Contributor
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Submissions, &c.Wins, &c.Votes); err != nil {
			return nil, fmt.Errorf("list top contributors: %w", err)
		}
		contributors = append(contributors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list top contributors: %w", err)
	}
	return contributors, nil
}

var (
	_ storage.HistoryStore     = (*Store)(nil)
	_ storage.ContributorStore = (*Store)(nil)
)
