package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"lawcrawl/models"
	"lawcrawl/queue"
)

// SQLiteQueue is the local operational database: the task queue, operator
// commands and task logs.
type SQLiteQueue struct {
	db  *sql.DB
	now func() time.Time
}

var _ queue.Queue = (*SQLiteQueue)(nil)

func NewSQLiteQueue(dbPath string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrapf(err, "open sqlite %s", dbPath)
	}

	q := &SQLiteQueue{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "migrate sqlite")
	}

	return q, nil
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func (q *SQLiteQueue) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload JSON,
		status TEXT NOT NULL DEFAULT 'queued',
		job_id INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 4,
		run_at DATETIME NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		claimed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_logs (
		id INTEGER PRIMARY KEY,
		task_id TEXT,
		timestamp DATETIME,
		level TEXT,
		source TEXT,
		message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_runnable ON tasks(status, run_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id, status);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_task ON task_logs(task_id, timestamp);
	`
	_, err := q.db.Exec(schema)
	return err
}

// ============================================================================
// Tasks
// ============================================================================

func (q *SQLiteQueue) Enqueue(ctx context.Context, kind queue.Kind, payload any, opts ...queue.EnqueueOption) (queue.Handle, error) {
	o := queue.ApplyOptions(opts...)
	data, err := json.Marshal(payload)
	if err != nil {
		return queue.Handle{}, eris.Wrapf(err, "marshal %s payload", kind)
	}

	id := uuid.NewString()
	now := q.now()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, payload, status, job_id, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		id, kind, string(data), queue.StatusQueued, o.JobID, o.MaxAttempts, now.Add(o.Delay), now, now)
	if err != nil {
		return queue.Handle{}, eris.Wrapf(err, "enqueue %s", kind)
	}
	return queue.NewHandle(id, q), nil
}

func (q *SQLiteQueue) Claim(ctx context.Context, kinds []queue.Kind) (*queue.Task, error) {
	if len(kinds) == 0 {
		return nil, nil
	}

	now := q.now()
	args := []any{queue.StatusRunning, now, now, queue.StatusQueued, now}
	for _, k := range kinds {
		args = append(args, k)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(kinds)), ",")

	// Single statement so two pollers can never take the same row.
	var id string
	err := q.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = ? AND run_at <= ? AND kind IN (`+placeholders+`)
			ORDER BY run_at, created_at
			LIMIT 1
		)
		RETURNING id`, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "claim task")
	}
	return q.Get(ctx, id)
}

// Complete marks a running task done. A task revoked while it ran stays revoked.
func (q *SQLiteQueue) Complete(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, last_error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		queue.StatusSucceeded, q.now(), id, queue.StatusRunning)
	return eris.Wrapf(err, "complete task %s", id)
}

func (q *SQLiteQueue) Retry(ctx context.Context, id string, runAt time.Time, lastErr string, consume bool) error {
	refund := 0
	if !consume {
		refund = 1
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, run_at = ?, last_error = ?, attempts = MAX(attempts - ?, 0),
			claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		queue.StatusQueued, runAt.UTC(), lastErr, refund, q.now(), id, queue.StatusRunning)
	return eris.Wrapf(err, "retry task %s", id)
}

func (q *SQLiteQueue) Fail(ctx context.Context, id string, lastErr string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		queue.StatusFailed, lastErr, q.now(), id, queue.StatusRunning)
	return eris.Wrapf(err, "fail task %s", id)
}

func (q *SQLiteQueue) Revoke(ctx context.Context, id string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		queue.StatusRevoked, q.now(), id, queue.StatusQueued, queue.StatusRunning)
	if err != nil {
		return false, eris.Wrapf(err, "revoke task %s", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// RevokeJob revokes every unfinished task tagged with jobID.
func (q *SQLiteQueue) RevokeJob(ctx context.Context, jobID int64) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE job_id = ? AND status IN (?, ?)`,
		queue.StatusRevoked, q.now(), jobID, queue.StatusQueued, queue.StatusRunning)
	if err != nil {
		return 0, eris.Wrapf(err, "revoke tasks of job %d", jobID)
	}
	n, err := result.RowsAffected()
	return int(n), eris.Wrap(err, "rows affected")
}

func (q *SQLiteQueue) Get(ctx context.Context, id string) (*queue.Task, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, status, job_id, attempts, max_attempts, run_at, last_error,
			claimed_at, created_at, updated_at
		FROM tasks WHERE id = ?`, id)

	var t queue.Task
	var payload sql.NullString
	err := row.Scan(&t.ID, &t.Kind, &payload, &t.Status, &t.JobID, &t.Attempts, &t.MaxAttempts,
		&t.RunAt, &t.LastError, &t.ClaimedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get task %s", id)
	}
	if payload.Valid {
		t.Payload = json.RawMessage(payload.String)
	}
	return &t, nil
}

// PurgeAll revokes everything not yet finished and returns how many tasks
// it touched.
func (q *SQLiteQueue) PurgeAll(ctx context.Context) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE status IN (?, ?)`,
		queue.StatusRevoked, q.now(), queue.StatusQueued, queue.StatusRunning)
	if err != nil {
		return 0, eris.Wrap(err, "purge tasks")
	}
	n, err := result.RowsAffected()
	return int(n), eris.Wrap(err, "rows affected")
}

// RequeueStale returns tasks stuck in running for longer than olderThan to
// the queue. Their worker is presumed dead; the attempt stays counted.
func (q *SQLiteQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := q.now()
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, claimed_at = NULL, run_at = ?, updated_at = ?,
			last_error = 'worker lost'
		WHERE status = ? AND claimed_at < ?`,
		queue.StatusQueued, now, now, queue.StatusRunning, now.Add(-olderThan))
	if err != nil {
		return 0, eris.Wrap(err, "requeue stale tasks")
	}
	n, err := result.RowsAffected()
	return int(n), eris.Wrap(err, "rows affected")
}

// CountByStatus tallies tasks, optionally for one job (jobID 0 = all).
func (q *SQLiteQueue) CountByStatus(ctx context.Context, jobID int64) (map[queue.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks`
	var args []any
	if jobID != 0 {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` GROUP BY status`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "count tasks")
	}
	defer rows.Close()

	counts := make(map[queue.Status]int)
	for rows.Next() {
		var status queue.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "scan task count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteFinished removes terminal tasks last touched before cutoff.
func (q *SQLiteQueue) DeleteFinished(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE status IN (?, ?, ?) AND updated_at < ?`,
		queue.StatusSucceeded, queue.StatusFailed, queue.StatusRevoked, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "delete finished tasks")
	}
	n, err := result.RowsAffected()
	return int(n), eris.Wrap(err, "rows affected")
}

// ============================================================================
// Commands
// ============================================================================

func (q *SQLiteQueue) InsertCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return 0, eris.Wrap(err, "marshal command params")
	}
	result, err := q.db.ExecContext(ctx, `
		INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, string(data), q.now())
	if err != nil {
		return 0, eris.Wrapf(err, "insert command %s", cmd)
	}
	return result.LastInsertId()
}

func (q *SQLiteQueue) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "query pending commands")
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "scan command")
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (q *SQLiteQueue) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, q.now(), id)
	return eris.Wrapf(err, "mark command %d processed", id)
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, eris.Wrapf(err, "parse params of command %d", cmd.ID)
	}
	return &params, nil
}

// ============================================================================
// Task logs
// ============================================================================

func (q *SQLiteQueue) Log(ctx context.Context, taskID string, level models.LogLevel, source, message string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, timestamp, level, source, message)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, q.now(), level, source, message)
	return eris.Wrap(err, "insert task log")
}

func (q *SQLiteQueue) TaskLogs(ctx context.Context, taskID string) ([]models.TaskLog, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, task_id, timestamp, level, source, message
		FROM task_logs WHERE task_id = ? ORDER BY timestamp, id`, taskID)
	if err != nil {
		return nil, eris.Wrapf(err, "query logs of task %s", taskID)
	}
	defer rows.Close()

	var logs []models.TaskLog
	for rows.Next() {
		var l models.TaskLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Timestamp, &l.Level, &l.Source, &l.Message); err != nil {
			return nil, eris.Wrap(err, "scan task log")
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// PruneLogs drops task logs older than cutoff.
func (q *SQLiteQueue) PruneLogs(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := q.db.ExecContext(ctx, `DELETE FROM task_logs WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "prune task logs")
	}
	n, err := result.RowsAffected()
	return int(n), eris.Wrap(err, "rows affected")
}
