package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

func (s *sqliteStore) CreateSession(ctx context.Context, name string) (Session, error) {
	if name == "" {
		return Session{}, errors.New("session name required")
	}
	id := randomID()
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO sessions(session_id, name, status, created_at, updated_at) VALUES(?, ?, 'active', ?, ?)`, id, name, now, now)
	if err != nil {
		return Session{}, err
	}
	return Session{SessionID: id, Name: name, Status: "active", CreatedAt: time.Unix(now, 0).UTC(), UpdatedAt: time.Unix(now, 0).UTC()}, nil
}

// GetSessionByName returns the session, or nil if no session has this name.
func (s *sqliteStore) GetSessionByName(ctx context.Context, name string) (*Session, error) {
	var (
		sess      Session
		createdAt int64
		updatedAt int64
	)
	err := s.stmtGetSessionByName.QueryRowContext(ctx, name).Scan(&sess.SessionID, &sess.Name, &sess.Status, &createdAt, &updatedAt, &sess.TaskCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sess, nil
}

func (s *sqliteStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT
  s.session_id, s.name, s.status, s.created_at, s.updated_at,
  (SELECT COUNT(*) FROM tasks k WHERE k.session_id = s.session_id) AS task_count
FROM sessions s
ORDER BY s.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		var (
			sess      Session
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&sess.SessionID, &sess.Name, &sess.Status, &createdAt, &updatedAt, &sess.TaskCount); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(createdAt, 0).UTC()
		sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetSessionStatus(ctx context.Context, name, status string) error {
	now := time.Now().UTC().Unix()
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET status=?, updated_at=? WHERE name=?`, status, now, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", name)
	}
	return nil
}

// TouchSession refreshes the session heartbeat.
func (s *sqliteStore) TouchSession(ctx context.Context, name string) error {
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE name=?`, now, name)
	return err
}

// DeleteSessionNamespace removes the session and everything it owns: tasks,
// dependencies (via cascade), and audit records.
func (s *sqliteStore) DeleteSessionNamespace(ctx context.Context, name string) error {
	sess, err := s.GetSessionByName(ctx, name)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_log WHERE task_id IN (SELECT task_id FROM tasks WHERE session_id = ?)`, sess.SessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sess.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) CreateTask(ctx context.Context, sessionName, subject, outputPath string) (int64, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return 0, err
	}
	if subject == "" {
		return 0, errors.New("subject required")
	}
	now := time.Now().UTC().Unix()
	res, err := s.stmtCreateTask.ExecContext(ctx, sess.SessionID, subject, outputPath, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AddTaskDependency records that taskID depends on dependsOnTaskID. Both
// tasks must exist; the pool validates they share a session.
func (s *sqliteStore) AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID int64) error {
	_, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO task_dependencies(task_id, depends_on_task_id) VALUES(?, ?)`, taskID, dependsOnTaskID)
	return err
}

func (s *sqliteStore) ListTaskDependencies(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id=? ORDER BY depends_on_task_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []int64
	for rows.Next() {
		var dep int64
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListTasks(ctx context.Context, sessionName string, limit int) ([]Task, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE session_id = ? ORDER BY task_id ASC`
	args := []any{sess.SessionID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Task
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

// scanTaskRow scans the current row (columns in taskColumns order).
func scanTaskRow(rows interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id           int64
		sessionID    string
		subject      string
		status       string
		owner        sql.NullString
		claimedAt    sql.NullInt64
		outputPath   string
		attemptCount int
		createdAt    int64
		updatedAt    int64
	)
	err := rows.Scan(&id, &sessionID, &subject, &status, &owner, &claimedAt, &outputPath, &attemptCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t := &Task{
		TaskID:       id,
		SessionID:    sessionID,
		Subject:      subject,
		Status:       status,
		OutputPath:   outputPath,
		AttemptCount: attemptCount,
		CreatedAt:    time.Unix(createdAt, 0).UTC(),
		UpdatedAt:    time.Unix(updatedAt, 0).UTC(),
	}
	if owner.Valid {
		t.Owner = &owner.String
	}
	if claimedAt.Valid {
		ts := time.Unix(claimedAt.Int64, 0).UTC()
		t.ClaimedAt = &ts
	}
	return t, nil
}

func (s *sqliteStore) GetTaskByID(ctx context.Context, sessionName string, taskID int64) (*Task, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	row := s.stmtGetTaskByID.QueryRowContext(ctx, taskID, sess.SessionID)
	task, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

// NextEligibleTask returns the lowest-id pending task whose dependencies are
// all completed, or nil if none.
func (s *sqliteStore) NextEligibleTask(ctx context.Context, sessionName string) (*Task, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	row := s.stmtNextEligible.QueryRowContext(ctx, sess.SessionID)
	task, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

// ClaimTask sets status to in_progress and owner if the task is still pending
// (optimistic lock). Returns true if claimed.
func (s *sqliteStore) ClaimTask(ctx context.Context, taskID int64, workerID string) (bool, error) {
	if workerID == "" {
		return false, errors.New("worker id required")
	}
	now := time.Now().UTC().Unix()
	res, err := s.stmtClaimTask.ExecContext(ctx, workerID, now, now, taskID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteTask marks the task completed if it is in_progress and owned by
// workerID. Returns true if the transition applied.
func (s *sqliteStore) CompleteTask(ctx context.Context, taskID int64, workerID string) (bool, error) {
	now := time.Now().UTC().Unix()
	res, err := s.stmtCompleteTask.ExecContext(ctx, now, taskID, workerID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseTask returns an in_progress task to pending, clearing owner and
// claim time. Returns true if the task was in_progress.
func (s *sqliteStore) ReleaseTask(ctx context.Context, taskID int64) (bool, error) {
	now := time.Now().UTC().Unix()
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='pending', owner=NULL, claimed_at=NULL, updated_at=? WHERE task_id=? AND status='in_progress'`, now, taskID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BlockTask marks the task blocked (worker execution failed; operator or
// supervisor decides what happens next).
func (s *sqliteStore) BlockTask(ctx context.Context, taskID int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='blocked', updated_at=? WHERE task_id=?`, now, taskID)
	return err
}

func (s *sqliteStore) CountTasksByStatus(ctx context.Context, sessionName string) (map[string]int, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE session_id=? GROUP BY status`, sess.SessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, taskID int64, operation, actor string) error {
	_, err := s.stmtAppendAudit.ExecContext(ctx, taskID, operation, actor, time.Now().UTC().Unix())
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, sessionName string) ([]AuditRecord, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT a.audit_id, a.task_id, a.operation, a.actor, a.created_at
FROM audit_log a
JOIN tasks t ON t.task_id = a.task_id
WHERE t.session_id = ?
ORDER BY a.audit_id ASC`, sess.SessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []AuditRecord
	for rows.Next() {
		var (
			r         AuditRecord
			createdAt int64
		)
		if err := rows.Scan(&r.AuditID, &r.TaskID, &r.Operation, &r.Actor, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) requireSession(ctx context.Context, name string) (*Session, error) {
	sess, err := s.GetSessionByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session not found: %s", name)
	}
	return sess, nil
}

func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
