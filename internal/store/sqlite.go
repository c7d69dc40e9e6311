package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/nester/internal/model"
	"github.com/seantiz/nester/internal/protocol"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    pipeline      TEXT NOT NULL,
    state         TEXT NOT NULL,
    cancel_handle INTEGER NOT NULL,
    seed          INTEGER,
    time_limit_s  REAL,
    cancelled     INTEGER NOT NULL DEFAULT 0,
    error         TEXT,
    artifact      TEXT,
    duration_ms   INTEGER,
    created_at    DATETIME NOT NULL,
    started_at    DATETIME,
    finished_at   DATETIME
)`

const createRunMessagesTable = `
CREATE TABLE IF NOT EXISTS run_messages (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id),
    seq        INTEGER NOT NULL,
    type       TEXT NOT NULL,
    level      TEXT,
    text       TEXT,
    artifact   TEXT,
    created_at DATETIME NOT NULL
)`

const createRunMessagesIndex = `
CREATE INDEX IF NOT EXISTS idx_run_messages_run_seq ON run_messages(run_id, seq)`

const runColumns = `id, pipeline, state, cancel_handle, seed, time_limit_s, cancelled,
	error, artifact, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range []string{createRunsTable, createRunMessagesTable, createRunMessagesIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// dsn applies the pragmas to every pooled connection. busy_timeout is
// per-connection, and transactions start IMMEDIATE so a read-then-write
// transaction waits for the lock instead of failing on upgrade.
func dsn(dbPath string) string {
	if dbPath == ":memory:" {
		return dbPath
	}
	return "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Pipeline, r.State, r.CancelHandle, seedToDB(r.Seed), r.TimeLimitS, r.Cancelled,
		r.Error, r.Artifact, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	r := &model.Run{}
	var seed sql.NullInt64
	var errText, artifact sql.NullString
	if err := row.Scan(
		&r.ID, &r.Pipeline, &r.State, &r.CancelHandle, &seed, &r.TimeLimitS, &r.Cancelled,
		&errText, &artifact, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}
	if seed.Valid {
		v := uint64(seed.Int64)
		r.Seed = &v
	}
	r.Error = errText.String
	r.Artifact = artifact.String
	return r, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs. Artifacts are omitted.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		r.Artifact = ""
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// UpdateRunState moves a run to a non-terminal state. Entering running also
// sets started_at. Terminal states go through FinishRun.
func (s *SQLiteStore) UpdateRunState(ctx context.Context, id, state string) error {
	if model.Terminal(state) {
		return fmt.Errorf("%w: %s must be set by FinishRun", ErrInvalidTransition, state)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTransition(ctx, tx, id, state); err != nil {
		return err
	}

	if state == model.StateRunning {
		_, err = tx.ExecContext(ctx,
			"UPDATE runs SET state = ?, started_at = ? WHERE id = ?",
			state, time.Now().UTC(), id)
	} else {
		_, err = tx.ExecContext(ctx, "UPDATE runs SET state = ? WHERE id = ?", state, id)
	}
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	return tx.Commit()
}

// FinishRun records the terminal state of a run with its artifact or error,
// duration and finish time.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *model.Run) error {
	if !model.Terminal(r.State) {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, r.State)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Any live state may end the run. An intermediate state that failed to
	// persist must not strand the outcome.
	var from string
	err = tx.QueryRowContext(ctx, "SELECT state FROM runs WHERE id = ?", r.ID).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read run state: %w", err)
	}
	if model.Terminal(from) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, r.State)
	}

	finishedAt := r.FinishedAt
	if finishedAt == nil {
		now := time.Now().UTC()
		finishedAt = &now
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET state = ?, cancelled = cancelled OR ?, error = ?, artifact = ?,
			duration_ms = ?, finished_at = ? WHERE id = ?`,
		r.State, r.Cancelled, r.Error, r.Artifact, r.DurationMS, finishedAt, r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return tx.Commit()
}

// MarkCancelled records that cancellation was requested for a run.
func (s *SQLiteStore) MarkCancelled(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE runs SET cancelled = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func checkTransition(ctx context.Context, tx *sql.Tx, id, to string) error {
	var from string
	err := tx.QueryRowContext(ctx, "SELECT state FROM runs WHERE id = ?", id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read run state: %w", err)
	}
	if !model.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// GetRunStats aggregates run counts and the mean duration of finished runs.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByState:    make(map[string]int),
		CountByPipeline: make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	if err := countBy(ctx, tx, "state", stats.CountByState); err != nil {
		return nil, err
	}
	if err := countBy(ctx, tx, "pipeline", stats.CountByPipeline); err != nil {
		return nil, err
	}
	for _, n := range stats.CountByState {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(cancelled), 0), AVG(duration_ms) FROM runs",
	).Scan(&stats.Cancelled, &avg); err != nil {
		return nil, fmt.Errorf("aggregate runs: %w", err)
	}
	stats.AvgDurationMS = avg.Float64

	return stats, nil
}

func countBy(ctx context.Context, tx *sql.Tx, column string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM runs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// InsertMessage persists one protocol message of a run.
func (s *SQLiteStore) InsertMessage(ctx context.Context, runID string, seq int, m protocol.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_messages (run_id, seq, type, level, text, artifact, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, string(m.Type), m.Level, m.Text, m.Artifact, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessages returns the messages of a run ordered by seq. It returns an
// empty slice, not nil, when there are none.
func (s *SQLiteStore) GetMessages(ctx context.Context, runID string) ([]model.RunMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, type, level, text, artifact, created_at
		FROM run_messages WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.RunMessage{}
	for rows.Next() {
		var rm model.RunMessage
		var typ string
		var level, text, artifact sql.NullString
		if err := rows.Scan(&rm.ID, &rm.RunID, &rm.Seq, &typ, &level, &text, &artifact, &rm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rm.Message = protocol.Message{
			Type:     protocol.Status(typ),
			Level:    level.String,
			Text:     text.String,
			Artifact: artifact.String,
		}
		msgs = append(msgs, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// seedToDB stores a seed as its two's-complement bit pattern, since SQLite
// integers are signed.
func seedToDB(seed *uint64) any {
	if seed == nil {
		return nil
	}
	return int64(*seed)
}
