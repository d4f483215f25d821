package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"swarmfuse/internal/store"
)

func randomID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("s-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func (s *Store) CreateSession(ctx context.Context, name string) (store.Session, error) {
	if name == "" {
		return store.Session{}, errors.New("session name required")
	}
	id := randomID()
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO sessions(session_id, name, status, created_at, updated_at) VALUES($1, $2, 'active', $3, $4)`, id, name, now, now)
	if err != nil {
		return store.Session{}, err
	}
	return store.Session{SessionID: id, Name: name, Status: "active", CreatedAt: time.Unix(now, 0).UTC(), UpdatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) GetSessionByName(ctx context.Context, name string) (*store.Session, error) {
	var (
		sess      store.Session
		createdAt int64
		updatedAt int64
	)
	err := s.Pool.QueryRow(ctx, `
SELECT s.session_id, s.name, s.status, s.created_at, s.updated_at,
  (SELECT COUNT(*) FROM tasks k WHERE k.session_id = s.session_id)
FROM sessions s WHERE s.name = $1`, name).Scan(&sess.SessionID, &sess.Name, &sess.Status, &createdAt, &updatedAt, &sess.TaskCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]store.Session, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT s.session_id, s.name, s.status, s.created_at, s.updated_at,
  (SELECT COUNT(*) FROM tasks k WHERE k.session_id = s.session_id) AS task_count
FROM sessions s ORDER BY s.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Session
	for rows.Next() {
		var (
			sess      store.Session
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

func (s *Store) SetSessionStatus(ctx context.Context, name, status string) error {
	now := time.Now().UTC().Unix()
	tag, err := s.Pool.Exec(ctx, `UPDATE sessions SET status=$1, updated_at=$2 WHERE name=$3`, status, now, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", name)
	}
	return nil
}

func (s *Store) TouchSession(ctx context.Context, name string) error {
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `UPDATE sessions SET updated_at=$1 WHERE name=$2`, now, name)
	return err
}

func (s *Store) DeleteSessionNamespace(ctx context.Context, name string) error {
	sess, err := s.GetSessionByName(ctx, name)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `DELETE FROM audit_log WHERE task_id IN (SELECT task_id FROM tasks WHERE session_id = $1)`, sess.SessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sess.SessionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateTask(ctx context.Context, sessionName, subject, outputPath string) (int64, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return 0, err
	}
	if subject == "" {
		return 0, errors.New("subject required")
	}
	now := time.Now().UTC().Unix()
	var id int64
	err = s.Pool.QueryRow(ctx, `INSERT INTO tasks(session_id, subject, status, output_path, created_at, updated_at) VALUES($1, $2, 'pending', $3, $4, $5) RETURNING task_id`, sess.SessionID, subject, outputPath, now, now).Scan(&id)
	return id, err
}

func (s *Store) AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID int64) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO task_dependencies(task_id, depends_on_task_id) VALUES($1, $2) ON CONFLICT DO NOTHING`, taskID, dependsOnTaskID)
	return err
}

func (s *Store) ListTaskDependencies(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := s.Pool.Query(ctx, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id=$1 ORDER BY depends_on_task_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

const taskColumns = `task_id, session_id, subject, status, owner, claimed_at, output_path, COALESCE(attempt_count,0), created_at, updated_at`

func scanTask(row pgx.Row) (*store.Task, error) {
	var (
		t            store.Task
		owner        *string
		claimedAt    *int64
		attemptCount int
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&t.TaskID, &t.SessionID, &t.Subject, &t.Status, &owner, &claimedAt, &t.OutputPath, &attemptCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Owner = owner
	if claimedAt != nil {
		ts := time.Unix(*claimedAt, 0).UTC()
		t.ClaimedAt = &ts
	}
	t.AttemptCount = attemptCount
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, sessionName string, limit int) ([]store.Task, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE session_id = $1 ORDER BY task_id ASC`
	args := []any{sess.SessionID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) GetTaskByID(ctx context.Context, sessionName string, taskID int64) (*store.Task, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	t, err := scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id=$1 AND session_id=$2`, taskID, sess.SessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) NextEligibleTask(ctx context.Context, sessionName string) (*store.Task, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	t, err := scanTask(s.Pool.QueryRow(ctx, `
SELECT `+taskColumns+` FROM tasks t
WHERE t.session_id = $1 AND t.status = 'pending'
  AND NOT EXISTS (
    SELECT 1 FROM task_dependencies d
    JOIN tasks p ON p.task_id = d.depends_on_task_id
    WHERE d.task_id = t.task_id AND p.status != 'completed')
ORDER BY t.task_id ASC LIMIT 1`, sess.SessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) ClaimTask(ctx context.Context, taskID int64, workerID string) (bool, error) {
	if workerID == "" {
		return false, errors.New("worker id required")
	}
	now := time.Now().UTC().Unix()
	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='in_progress', owner=$1, claimed_at=$2, updated_at=$3, attempt_count=COALESCE(attempt_count,0)+1 WHERE task_id=$4 AND status='pending'`, workerID, now, now, taskID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID int64, workerID string) (bool, error) {
	now := time.Now().UTC().Unix()
	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='completed', updated_at=$1 WHERE task_id=$2 AND status='in_progress' AND owner=$3`, now, taskID, workerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ReleaseTask(ctx context.Context, taskID int64) (bool, error) {
	now := time.Now().UTC().Unix()
	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='pending', owner=NULL, claimed_at=NULL, updated_at=$1 WHERE task_id=$2 AND status='in_progress'`, now, taskID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) BlockTask(ctx context.Context, taskID int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='blocked', updated_at=$1 WHERE task_id=$2`, now, taskID)
	return err
}

func (s *Store) CountTasksByStatus(ctx context.Context, sessionName string) (map[string]int, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks WHERE session_id=$1 GROUP BY status`, sess.SessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (s *Store) AppendAudit(ctx context.Context, taskID int64, operation, actor string) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO audit_log(task_id, operation, actor, created_at) VALUES($1, $2, $3, $4)`, taskID, operation, actor, time.Now().UTC().Unix())
	return err
}

func (s *Store) ListAudit(ctx context.Context, sessionName string) ([]store.AuditRecord, error) {
	sess, err := s.requireSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `
SELECT a.audit_id, a.task_id, a.operation, a.actor, a.created_at
FROM audit_log a
JOIN tasks t ON t.task_id = a.task_id
WHERE t.session_id = $1
ORDER BY a.audit_id ASC`, sess.SessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.AuditRecord
	for rows.Next() {
		var (
			r         store.AuditRecord
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

func (s *Store) requireSession(ctx context.Context, name string) (*store.Session, error) {
	sess, err := s.GetSessionByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session not found: %s", name)
	}
	return sess, nil
}
