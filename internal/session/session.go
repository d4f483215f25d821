// Package session manages the lifecycle of a named session namespace:
// creation with stale-session recovery, heartbeating, and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"swarmfuse/internal/store"
	"swarmfuse/pkg/models"
)

var (
	// ErrAlreadyActive means a session with this name is active and its
	// heartbeat is fresh, so it cannot be replaced.
	ErrAlreadyActive = errors.New("session already active")
	// ErrSessionCreationFailed means every creation attempt, including the
	// forced-cleanup fallback, failed. Callers should treat this as fatal.
	ErrSessionCreationFailed = errors.New("session creation failed")
)

// DefaultBackoffs are the waits before each creation attempt: the first try
// is immediate, then 3s, then 8s.
var DefaultBackoffs = []time.Duration{0, 3 * time.Second, 8 * time.Second}

// Manager creates and tears down session namespaces.
type Manager struct {
	Store store.Store
	// StaleThreshold is how old a session's heartbeat may be before the
	// session is considered abandoned and recoverable. Zero means the
	// default of 30 minutes.
	StaleThreshold time.Duration
	// Backoffs overrides the per-attempt waits. Nil means DefaultBackoffs.
	Backoffs []time.Duration
	// TeardownGrace is how long Teardown waits for workers to stop before
	// removing the namespace anyway. Zero means 30 seconds.
	TeardownGrace time.Duration
}

func (m *Manager) staleThreshold() time.Duration {
	if m.StaleThreshold > 0 {
		return m.StaleThreshold
	}
	return time.Duration(models.DefaultStaleSessionMin) * time.Minute
}

func (m *Manager) backoffs() []time.Duration {
	if len(m.Backoffs) > 0 {
		return m.Backoffs
	}
	return DefaultBackoffs
}

// Create establishes a fresh session namespace under name.
//
// An existing session blocks creation only while it is active with a fresh
// heartbeat; a stale or terminal session is torn down and its name reused.
// Creation is retried with backoff, then once more after a forced namespace
// cleanup. If that final attempt also fails, ErrSessionCreationFailed is
// returned and the caller should abort the run.
func (m *Manager) Create(ctx context.Context, name string) (*store.Session, error) {
	if err := m.recoverStale(ctx, name); err != nil {
		return nil, err
	}

	var lastErr error
	for _, wait := range m.backoffs() {
		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		sess, err := m.Store.CreateSession(ctx, name)
		if err == nil {
			slog.Info("session created", "session", name, "session_id", sess.SessionID)
			return &sess, nil
		}
		lastErr = err
		// The name may have been taken between attempts; re-run recovery so
		// a session that went stale mid-loop is cleaned up before the retry.
		if rerr := m.recoverStale(ctx, name); rerr != nil {
			return nil, rerr
		}
		slog.Warn("session create attempt failed", "session", name, "err", err)
	}

	// Forced cleanup fallback: remove whatever is left under the name and
	// try once more.
	if err := m.Store.DeleteSessionNamespace(ctx, name); err != nil {
		slog.Warn("forced session cleanup failed", "session", name, "err", err)
	}
	sess, err := m.Store.CreateSession(ctx, name)
	if err == nil {
		slog.Info("session created after forced cleanup", "session", name)
		return &sess, nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrSessionCreationFailed, name, lastErr)
}

// recoverStale tears down an existing session under name unless it is active
// with a fresh heartbeat, in which case ErrAlreadyActive is returned.
func (m *Manager) recoverStale(ctx context.Context, name string) error {
	existing, err := m.Store.GetSessionByName(ctx, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	fresh := time.Since(existing.UpdatedAt) < m.staleThreshold()
	if existing.Status == models.SessionActive && fresh {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, name)
	}
	slog.Warn("recovering abandoned session", "session", name,
		"status", existing.Status, "last_heartbeat", existing.UpdatedAt)
	return m.Store.DeleteSessionNamespace(ctx, name)
}

// Heartbeat touches the session every interval until ctx is cancelled,
// keeping it from being classified stale by a later Create.
func (m *Manager) Heartbeat(ctx context.Context, name string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Store.TouchSession(ctx, name); err != nil {
				slog.Warn("session heartbeat failed", "session", name, "err", err)
			}
		}
	}
}

// Teardown shuts a session down: stop (when non-nil) signals workers to
// finish, done (when non-nil) reports that they have, and after done closes
// or the grace period elapses the namespace is removed unconditionally.
func (m *Manager) Teardown(ctx context.Context, name string, stop func(), done <-chan struct{}) error {
	if stop != nil {
		stop()
	}
	if done != nil {
		grace := m.TeardownGrace
		if grace <= 0 {
			grace = time.Duration(models.DefaultTeardownGraceSec) * time.Second
		}
		select {
		case <-done:
		case <-time.After(grace):
			slog.Warn("teardown grace elapsed with workers still running", "session", name)
		case <-ctx.Done():
		}
	}
	if err := m.Store.DeleteSessionNamespace(ctx, name); err != nil {
		return fmt.Errorf("remove session namespace %s: %w", name, err)
	}
	slog.Info("session namespace removed", "session", name)
	return nil
}
