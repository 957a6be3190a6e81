// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides plan/step/transcript persistence with optimistic version stamps

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stillwater-labs/steward/internal/plan"
	"github.com/stillwater-labs/steward/internal/stream"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS plans (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			goal       TEXT NOT NULL,
			team_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,

			CHECK (status IN (
				'created', 'streaming', 'awaiting_approval', 'in_progress',
				'awaiting_clarification', 'completed', 'failed', 'cancelled'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_plans_session ON plans(session_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);

		CREATE TABLE IF NOT EXISTS steps (
			id             TEXT PRIMARY KEY,
			plan_id        TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			sequence_index INTEGER NOT NULL,
			description    TEXT NOT NULL,
			assigned_agent TEXT NOT NULL,
			exec_status    TEXT NOT NULL,
			approval       TEXT NOT NULL,
			result         TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			version        INTEGER NOT NULL DEFAULT 1,

			UNIQUE (plan_id, sequence_index),
			CHECK (exec_status IN ('pending', 'running', 'completed', 'failed')),
			CHECK (approval IN ('planned', 'accepted', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_steps_plan ON steps(plan_id, sequence_index);

		CREATE TABLE IF NOT EXISTS plan_messages (
			id         TEXT PRIMARY KEY,
			plan_id    TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			author     TEXT NOT NULL,
			kind       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (kind IN (
				'goal', 'reasoning', 'clarification_question',
				'clarification_answer', 'step_result', 'seed'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_plan_messages_plan ON plan_messages(plan_id, created_at);

		CREATE TABLE IF NOT EXISTS stream_events (
			plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			seq     INTEGER NOT NULL,
			type    TEXT NOT NULL,
			text    TEXT NOT NULL DEFAULT '',
			count   INTEGER NOT NULL DEFAULT 0,
			at      TEXT NOT NULL,

			PRIMARY KEY (plan_id, seq)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreatePlan inserts a new plan with version 1.
// Returns ErrDuplicate if a plan with the same ID already exists.
func (s *SQLiteStore) CreatePlan(ctx context.Context, p *plan.Plan) error {
	query := `
		INSERT INTO plans (id, session_id, goal, team_id, status, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.SessionID,
		p.Goal,
		p.TeamID,
		string(p.Status),
		p.CreatedAt.UTC().Format(time.RFC3339),
		p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting plan: %w", err)
	}
	p.Version = 1

	s.logger.Debug("created plan", "id", p.ID, "team_id", p.TeamID)
	return nil
}

// GetPlan retrieves a plan by ID.
// Returns ErrNotFound if the plan doesn't exist.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	query := `
		SELECT id, session_id, goal, team_id, status, created_at, updated_at, version
		FROM plans
		WHERE id = ?
	`
	return scanPlan(s.db.QueryRowContext(ctx, query, id))
}

// UpdatePlan writes a plan's mutable fields, guarded by its version stamp.
// On success the in-memory version is incremented to match the row.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	query := `
		UPDATE plans
		SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query,
		string(p.Status),
		now.Format(time.RFC3339),
		p.ID,
		p.Version,
	)
	if err != nil {
		return fmt.Errorf("updating plan: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return s.staleWriteError(ctx, "plans", p.ID)
	}

	p.Version++
	p.UpdatedAt = now
	return nil
}

// ListPlans returns the most recently created plans, newest first.
func (s *SQLiteStore) ListPlans(ctx context.Context, limit int) ([]*plan.Plan, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, goal, team_id, status, created_at, updated_at, version
		FROM plans
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	return collectPlans(rows)
}

// ListActivePlans returns every plan in a non-terminal status.
func (s *SQLiteStore) ListActivePlans(ctx context.Context) ([]*plan.Plan, error) {
	query := `
		SELECT id, session_id, goal, team_id, status, created_at, updated_at, version
		FROM plans
		WHERE status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying active plans: %w", err)
	}
	defer rows.Close()

	return collectPlans(rows)
}

// CreateSteps inserts a batch of steps in one transaction. All or nothing:
// a failure rolls back the whole batch.
func (s *SQLiteStore) CreateSteps(ctx context.Context, steps []*plan.Step) error {
	if len(steps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO steps (id, plan_id, sequence_index, description, assigned_agent,
			exec_status, approval, result, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`

	for _, st := range steps {
		_, err := tx.ExecContext(ctx, query,
			st.ID,
			st.PlanID,
			st.SequenceIndex,
			st.Description,
			st.AssignedAgent,
			string(st.ExecStatus),
			string(st.Approval),
			st.Result,
			st.CreatedAt.UTC().Format(time.RFC3339),
			st.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("inserting step %d: %w", st.SequenceIndex, err)
		}
		st.Version = 1
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing steps: %w", err)
	}

	s.logger.Debug("created steps", "plan_id", steps[0].PlanID, "count", len(steps))
	return nil
}

// GetStep retrieves a step by ID.
// Returns ErrNotFound if the step doesn't exist.
func (s *SQLiteStore) GetStep(ctx context.Context, id string) (*plan.Step, error) {
	query := `
		SELECT id, plan_id, sequence_index, description, assigned_agent,
			exec_status, approval, result, created_at, updated_at, version
		FROM steps
		WHERE id = ?
	`
	return scanStep(s.db.QueryRowContext(ctx, query, id))
}

// UpdateStep writes a step's mutable fields, guarded by its version stamp.
// Racing writers are serialized here: the second write with a stale version
// returns ErrVersionConflict.
func (s *SQLiteStore) UpdateStep(ctx context.Context, st *plan.Step) error {
	query := `
		UPDATE steps
		SET exec_status = ?, approval = ?, result = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query,
		string(st.ExecStatus),
		string(st.Approval),
		st.Result,
		now.Format(time.RFC3339),
		st.ID,
		st.Version,
	)
	if err != nil {
		return fmt.Errorf("updating step: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return s.staleWriteError(ctx, "steps", st.ID)
	}

	st.Version++
	st.UpdatedAt = now
	return nil
}

// ListSteps returns a plan's steps ordered by sequence index.
func (s *SQLiteStore) ListSteps(ctx context.Context, planID string) ([]*plan.Step, error) {
	query := `
		SELECT id, plan_id, sequence_index, description, assigned_agent,
			exec_status, approval, result, created_at, updated_at, version
		FROM steps
		WHERE plan_id = ?
		ORDER BY sequence_index ASC
	`

	rows, err := s.db.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	var steps []*plan.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// SaveMessage appends one transcript message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, m *plan.Message) error {
	query := `
		INSERT INTO plan_messages (id, plan_id, author, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.PlanID,
		m.Author,
		string(m.Kind),
		m.Content,
		m.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns a plan's transcript in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, planID string) ([]*plan.Message, error) {
	query := `
		SELECT id, plan_id, author, kind, content, created_at
		FROM plan_messages
		WHERE plan_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*plan.Message
	for rows.Next() {
		var m plan.Message
		var kind, createdAt string
		if err := rows.Scan(&m.ID, &m.PlanID, &m.Author, &kind, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Kind = plan.MessageKind(kind)
		m.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// SaveStreamEvent records one stream event in a plan's durable event log.
func (s *SQLiteStore) SaveStreamEvent(ctx context.Context, planID string, ev stream.Event) error {
	query := `
		INSERT INTO stream_events (plan_id, seq, type, text, count, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		planID,
		ev.Seq,
		ev.Type.String(),
		ev.Text,
		ev.Count,
		ev.At.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting stream event: %w", err)
	}
	return nil
}

// ListStreamEvents returns a plan's durable event log ordered by sequence.
func (s *SQLiteStore) ListStreamEvents(ctx context.Context, planID string) ([]stream.Event, error) {
	query := `
		SELECT seq, type, text, count, at
		FROM stream_events
		WHERE plan_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("querying stream events: %w", err)
	}
	defer rows.Close()

	var events []stream.Event
	for rows.Next() {
		var ev stream.Event
		var typeName, at string
		if err := rows.Scan(&ev.Seq, &typeName, &ev.Text, &ev.Count, &at); err != nil {
			return nil, fmt.Errorf("scanning stream event: %w", err)
		}
		t, ok := stream.ParseType(typeName)
		if !ok {
			return nil, fmt.Errorf("unknown stream event type %q", typeName)
		}
		ev.Type = t
		ev.At, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("parsing event time: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// staleWriteError distinguishes a lost race from a missing row after an
// update matched nothing.
func (s *SQLiteStore) staleWriteError(ctx context.Context, table, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking %s existence: %w", table, err)
	}
	return ErrVersionConflict
}

// scannable abstracts sql.Row and sql.Rows for the scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func scanPlan(row scannable) (*plan.Plan, error) {
	var p plan.Plan
	var status, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.SessionID, &p.Goal, &p.TeamID, &status, &createdAt, &updatedAt, &p.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning plan: %w", err)
	}

	p.Status = plan.Status(status)
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}

func collectPlans(rows *sql.Rows) ([]*plan.Plan, error) {
	var plans []*plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanStep(row scannable) (*plan.Step, error) {
	var st plan.Step
	var execStatus, approval, createdAt, updatedAt string

	err := row.Scan(&st.ID, &st.PlanID, &st.SequenceIndex, &st.Description, &st.AssignedAgent,
		&execStatus, &approval, &st.Result, &createdAt, &updatedAt, &st.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning step: %w", err)
	}

	st.ExecStatus = plan.ExecStatus(execStatus)
	st.Approval = plan.Approval(approval)
	st.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	st.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &st, nil
}
