// Package httpapi serves the read-only status surface of a running engine:
// session and task state, finished reports, Prometheus metrics, and an SSE
// event stream.
package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"swarmfuse/internal/pipeline"
	"swarmfuse/internal/store"
	"swarmfuse/internal/store/postgres"
	"swarmfuse/pkg/models"
)

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Home           string
	Addr           string
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or DATABASE_URL env)
	MetricsHandler http.Handler // if set, used for /metrics (OTel Prometheus handler)
}

// App holds the HTTP server, SSE hub, store, and home path.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Store  store.Store
	Home   string
}

// NewApp creates the HTTP app and registers all routes.
// bodyLimitMiddleware wraps mutating request bodies with http.MaxBytesReader
// so handlers cannot read more than maxBytes.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	app := &App{
		Server: &http.Server{Addr: opts.Addr, Handler: bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, mux)},
		Hub:    hub,
		Store:  st,
		Home:   opts.Home,
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}
	mux.HandleFunc("/api/events", hub.Handler())
	mux.HandleFunc("/api/sessions", app.handleSessions)
	mux.HandleFunc("/api/sessions/", app.handleSessionSubtree)

	return app, nil
}

// Close releases the app's store.
func (a *App) Close() error {
	return a.Store.Close()
}

func (a *App) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessions, err := a.Store.ListSessions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toAPISession(s))
	}
	writeJSON(w, out)
}

// handleSessionSubtree routes /api/sessions/{name}/tasks and
// /api/sessions/{name}/report.
func (a *App) handleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	name := parts[0]
	switch {
	case len(parts) == 1:
		a.handleSessionStatus(w, r, name)
	case len(parts) == 2 && parts[1] == "tasks":
		a.handleTasks(w, r, name)
	case len(parts) == 2 && parts[1] == "report":
		a.handleReport(w, name)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

func (a *App) handleSessionStatus(w http.ResponseWriter, r *http.Request, name string) {
	sess, err := a.Store.GetSessionByName(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	counts, err := a.Store.CountTasksByStatus(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, models.SessionStatus{Session: toAPISession(*sess), Tasks: counts})
}

func (a *App) handleTasks(w http.ResponseWriter, r *http.Request, name string) {
	sess, err := a.Store.GetSessionByName(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	tasks, err := a.Store.ListTasks(r.Context(), name, 0)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toAPITask(t))
	}
	writeJSON(w, out)
}

func toAPISession(s store.Session) models.Session {
	return models.Session{
		SessionID: s.SessionID,
		Name:      s.Name,
		Status:    s.Status,
		TaskCount: s.TaskCount,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toAPITask(t store.Task) models.Task {
	return models.Task{
		TaskID:       t.TaskID,
		Subject:      t.Subject,
		Status:       t.Status,
		Owner:        t.Owner,
		ClaimedAt:    t.ClaimedAt,
		OutputPath:   t.OutputPath,
		AttemptCount: t.AttemptCount,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// handleReport serves the report artifact from disk. Reports outlive the
// store namespace, so a torn-down session's report is still reachable.
func (a *App) handleReport(w http.ResponseWriter, name string) {
	path := filepath.Join(pipeline.SessionDir(a.Home, name), "report.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSONError(w, http.StatusNotFound, "no report for session")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
