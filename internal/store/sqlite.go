package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clrke/claude-web/internal/errors"
	"github.com/clrke/claude-web/internal/session"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	project_id          TEXT NOT NULL,
	feature_id          TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	current_stage       INTEGER NOT NULL DEFAULT 0,
	queue_position      INTEGER NOT NULL DEFAULT 0,
	conversation_handle TEXT NOT NULL DEFAULT '',
	data_version        INTEGER NOT NULL,
	preferences         TEXT NOT NULL DEFAULT '{}',
	acceptance_criteria TEXT NOT NULL DEFAULT '[]',
	affected_files      TEXT NOT NULL DEFAULT '[]',
	replanning_count    INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	queued_at           INTEGER,
	expires_at          INTEGER,
	PRIMARY KEY (project_id, feature_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_project_status ON sessions(project_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at) WHERE expires_at IS NOT NULL;
`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at dbPath, runs schema
// initialization, and configures WAL mode for concurrent reads.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create persists a new session at DataVersion 1.
func (s *SQLiteStore) Create(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	cp := sess.Clone()
	now := time.Now()
	cp.DataVersion = 1
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	prefs, criteria, files, err := encodeBlobs(cp)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			project_id, feature_id, description, status, current_stage,
			queue_position, conversation_handle, data_version, preferences,
			acceptance_criteria, affected_files, replanning_count,
			created_at, updated_at, queued_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ProjectID, cp.FeatureID, cp.Description, string(cp.Status), cp.CurrentStage,
		cp.QueuePosition, cp.ConversationHandle, cp.DataVersion, prefs,
		criteria, files, cp.ReplanningCount,
		cp.CreatedAt.UnixNano(), cp.UpdatedAt.UnixNano(),
		nullableTime(cp.QueuedAt), nullableTime(cp.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(errors.ErrAlreadyExists, "session %s", cp.Key())
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns the session for the composite key.
func (s *SQLiteStore) Get(ctx context.Context, projectID, featureID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM sessions WHERE project_id = ? AND feature_id = ?`,
		projectID, featureID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("session", session.Key(projectID, featureID))
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ConditionalUpdate applies mutate under the version check, inside a
// transaction so the read and the guarded write are atomic.
func (s *SQLiteStore) ConditionalUpdate(ctx context.Context, projectID, featureID string, expectedVersion int64, mutate Mutator) (*session.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectColumns+` FROM sessions WHERE project_id = ? AND feature_id = ?`,
		projectID, featureID)
	stored, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("session", session.Key(projectID, featureID))
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if stored.DataVersion != expectedVersion {
		return nil, errors.NewConflictError(expectedVersion, stored.DataVersion)
	}

	if err := mutate(stored); err != nil {
		return nil, err
	}
	stored.DataVersion = expectedVersion + 1
	stored.UpdatedAt = time.Now()

	prefs, criteria, files, err := encodeBlobs(stored)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			description = ?, status = ?, current_stage = ?, queue_position = ?,
			conversation_handle = ?, data_version = ?, preferences = ?,
			acceptance_criteria = ?, affected_files = ?, replanning_count = ?,
			updated_at = ?, queued_at = ?, expires_at = ?
		WHERE project_id = ? AND feature_id = ? AND data_version = ?`,
		stored.Description, string(stored.Status), stored.CurrentStage, stored.QueuePosition,
		stored.ConversationHandle, stored.DataVersion, prefs,
		criteria, files, stored.ReplanningCount,
		stored.UpdatedAt.UnixNano(), nullableTime(stored.QueuedAt), nullableTime(stored.ExpiresAt),
		projectID, featureID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		// Raced by another writer between read and write.
		return nil, errors.NewConflictError(expectedVersion, stored.DataVersion)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return stored.Clone(), nil
}

// ListByProject returns every session for the project.
func (s *SQLiteStore) ListByProject(ctx context.Context, projectID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM sessions WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListQueuedByProject returns queued sessions ordered by queue position.
func (s *SQLiteStore) ListQueuedByProject(ctx context.Context, projectID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM sessions WHERE project_id = ? AND status = ? ORDER BY queue_position ASC`,
		projectID, string(session.StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("list queued sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListExpired returns queued sessions whose expiry watermark has passed.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM sessions WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		string(session.StatusQueued), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

const selectColumns = `
	SELECT project_id, feature_id, description, status, current_stage,
	       queue_position, conversation_handle, data_version, preferences,
	       acceptance_criteria, affected_files, replanning_count,
	       created_at, updated_at, queued_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess                  session.Session
		status                string
		prefs, criteria, file string
		createdAt, updatedAt  int64
		queuedAt, expiresAt   sql.NullInt64
	)

	err := row.Scan(&sess.ProjectID, &sess.FeatureID, &sess.Description, &status,
		&sess.CurrentStage, &sess.QueuePosition, &sess.ConversationHandle,
		&sess.DataVersion, &prefs, &criteria, &file, &sess.ReplanningCount,
		&createdAt, &updatedAt, &queuedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	sess.Status = session.Status(status)
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.UpdatedAt = time.Unix(0, updatedAt)
	if queuedAt.Valid {
		t := time.Unix(0, queuedAt.Int64)
		sess.QueuedAt = &t
	}
	if expiresAt.Valid {
		t := time.Unix(0, expiresAt.Int64)
		sess.ExpiresAt = &t
	}

	if err := json.Unmarshal([]byte(prefs), &sess.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(criteria), &sess.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("decode acceptance criteria: %w", err)
	}
	if err := json.Unmarshal([]byte(file), &sess.AffectedFiles); err != nil {
		return nil, fmt.Errorf("decode affected files: %w", err)
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*session.Session, error) {
	var result []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func encodeBlobs(s *session.Session) (prefs, criteria, files string, err error) {
	p, err := json.Marshal(s.Preferences)
	if err != nil {
		return "", "", "", fmt.Errorf("encode preferences: %w", err)
	}
	c, err := json.Marshal(orEmptyCriteria(s.AcceptanceCriteria))
	if err != nil {
		return "", "", "", fmt.Errorf("encode acceptance criteria: %w", err)
	}
	f, err := json.Marshal(orEmptyStrings(s.AffectedFiles))
	if err != nil {
		return "", "", "", fmt.Errorf("encode affected files: %w", err)
	}
	return string(p), string(c), string(f), nil
}

func orEmptyCriteria(in []session.AcceptanceCriterion) []session.AcceptanceCriterion {
	if in == nil {
		return []session.AcceptanceCriterion{}
	}
	return in
}

func orEmptyStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports constraint violations in the error text;
	// matching on it avoids importing the driver's error types here.
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY must be unique"))
}
