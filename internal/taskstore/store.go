package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// Store provides SQLite-backed persistence of batch tasks, their outcomes and
// imported identities
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection: ":memory:" databases are per connection, and SQLite
	// serializes writers anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot upserts the task row and appends outcomes not yet stored, in
// one transaction. It implements batch.Sink.
func (s *Store) SaveSnapshot(ctx context.Context, task domain.BatchTask) error {
	itemsJSON, err := json.Marshal(task.Items)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_tasks (id, status, completed_count, failed_count, items, error, created_at, started_at, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_count = excluded.completed_count,
			failed_count = excluded.failed_count,
			items = excluded.items,
			error = excluded.error,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
	`,
		task.ID,
		string(task.Status),
		task.CompletedCount,
		task.FailedCount,
		string(itemsJSON),
		nullString(task.Error),
		task.CreatedAt,
		nullTime(task.StartedAt),
		nullTime(task.EndedAt),
		time.Now(),
	)
	if err != nil {
		return classify(err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes WHERE task_id = ?`, task.ID).Scan(&stored); err != nil {
		return classify(err)
	}
	if stored > len(task.Outcomes) {
		// snapshot is older than what we hold; rewrite from scratch
		if _, err := tx.ExecContext(ctx, `DELETE FROM outcomes WHERE task_id = ?`, task.ID); err != nil {
			return classify(err)
		}
		stored = 0
	}

	for seq := stored; seq < len(task.Outcomes); seq++ {
		o := task.Outcomes[seq]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outcomes (task_id, seq, identity, email, password, kind, error_kind, step, message, attempts, elapsed_ms, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			task.ID, seq, o.Identity, o.Email, o.Password, string(o.Kind), string(o.ErrorKind),
			string(o.Step), o.Message, o.Attempts, o.Elapsed.Milliseconds(), o.Timestamp,
		)
		if err != nil {
			return classify(err)
		}
	}

	return classify(tx.Commit())
}

// classify marks errors after which the store cannot be written anymore
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if errors.Is(err, sql.ErrConnDone) ||
		strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "readonly") ||
		strings.Contains(msg, "disk i/o error") ||
		strings.Contains(msg, "database or disk is full") {
		return fmt.Errorf("%w: %w", domain.ErrSinkUnavailable, err)
	}
	return err
}

// GetTask retrieves a task with its outcomes
func (s *Store) GetTask(id string) (domain.BatchTask, error) {
	row := s.db.QueryRow(`
		SELECT id, status, completed_count, failed_count, items, error, created_at, started_at, ended_at
		FROM batch_tasks WHERE id = ?
	`, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BatchTask{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return domain.BatchTask{}, err
	}

	task.Outcomes, err = s.Outcomes(id)
	if err != nil {
		return domain.BatchTask{}, err
	}
	return task, nil
}

// ListOptions specifies filters for listing tasks
type ListOptions struct {
	Status domain.TaskStatus
}

// ListTasks returns tasks matching the given options, oldest first. Outcomes
// are not loaded; use GetTask for them.
func (s *Store) ListTasks(opts ListOptions) ([]domain.BatchTask, error) {
	query := `SELECT id, status, completed_count, failed_count, items, error, created_at, started_at, ended_at FROM batch_tasks WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.BatchTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task and its outcomes unless it is running or paused
func (s *Store) DeleteTask(id string) error {
	var status string
	err := s.db.QueryRow(`SELECT status FROM batch_tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return err
	}
	if domain.TaskStatus(status).IsActive() {
		return fmt.Errorf("%w: %s is %s", domain.ErrTaskBusy, id, status)
	}
	_, err = s.db.Exec(`DELETE FROM batch_tasks WHERE id = ?`, id)
	return err
}

// DeleteSnapshot drops a persisted task regardless of its stored status; the
// orchestrator calls it only for tasks it already removed.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM batch_tasks WHERE id = ?`, id)
	return err
}

// Outcomes returns the outcomes of one task in recording order
func (s *Store) Outcomes(taskID string) ([]domain.Outcome, error) {
	return s.queryOutcomes(`
		SELECT identity, email, password, kind, error_kind, step, message, attempts, elapsed_ms, timestamp
		FROM outcomes WHERE task_id = ? ORDER BY seq
	`, taskID)
}

// AllOutcomes returns the outcomes of every task, oldest task first
func (s *Store) AllOutcomes() ([]domain.Outcome, error) {
	return s.queryOutcomes(`
		SELECT o.identity, o.email, o.password, o.kind, o.error_kind, o.step, o.message, o.attempts, o.elapsed_ms, o.timestamp
		FROM outcomes o JOIN batch_tasks t ON t.id = o.task_id
		ORDER BY t.created_at, t.id, o.seq
	`)
}

func (s *Store) queryOutcomes(query string, args ...interface{}) ([]domain.Outcome, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := []domain.Outcome{}
	for rows.Next() {
		var (
			o                    domain.Outcome
			email, password, msg sql.NullString
			kind, errKind, step  sql.NullString
			elapsedMs            int64
		)
		if err := rows.Scan(&o.Identity, &email, &password, &kind, &errKind, &step, &msg, &o.Attempts, &elapsedMs, &o.Timestamp); err != nil {
			return nil, err
		}
		o.Email = email.String
		o.Password = password.String
		o.Kind = domain.OutcomeKind(kind.String)
		o.ErrorKind = domain.ErrorKind(errKind.String)
		o.Step = domain.Step(step.String)
		o.Message = msg.String
		o.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// SaveIdentities upserts imported identities for later batches
func (s *Store) SaveIdentities(items []domain.WorkItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, it := range items {
		var birth string
		if it.BirthDate != (domain.BirthDate{}) {
			birth = it.BirthDate.String()
		}
		_, err := tx.Exec(`
			INSERT INTO identities (identity, display_name, password, birth_date, phone, imported_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(identity) DO UPDATE SET
				display_name = excluded.display_name,
				password = excluded.password,
				birth_date = excluded.birth_date,
				phone = excluded.phone
		`, it.Identity, it.DisplayName, it.Password, birth, it.Phone, time.Now())
		if err != nil {
			return fmt.Errorf("save identity %s: %w", it.Identity, err)
		}
	}
	return tx.Commit()
}

// ListIdentities returns imported identities in import order
func (s *Store) ListIdentities() ([]domain.WorkItem, error) {
	rows, err := s.db.Query(`
		SELECT identity, display_name, password, birth_date, phone
		FROM identities ORDER BY imported_at, rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		var (
			it                           domain.WorkItem
			name, password, birth, phone sql.NullString
		)
		if err := rows.Scan(&it.Identity, &name, &password, &birth, &phone); err != nil {
			return nil, err
		}
		it.DisplayName = name.String
		it.Password = password.String
		it.Phone = phone.String
		if birth.String != "" {
			if it.BirthDate, err = domain.ParseBirthDate(birth.String); err != nil {
				return nil, err
			}
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return domain.Reindex(items), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (domain.BatchTask, error) {
	var (
		task               domain.BatchTask
		status, itemsJSON  string
		errMsg             sql.NullString
		startedAt, endedAt sql.NullTime
	)

	err := row.Scan(&task.ID, &status, &task.CompletedCount, &task.FailedCount, &itemsJSON, &errMsg, &task.CreatedAt, &startedAt, &endedAt)
	if err != nil {
		return domain.BatchTask{}, err
	}

	task.Status = domain.TaskStatus(status)
	task.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		task.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(itemsJSON), &task.Items); err != nil {
		return domain.BatchTask{}, fmt.Errorf("decode items of %s: %w", task.ID, err)
	}
	task.Outcomes = []domain.Outcome{}
	return task, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
