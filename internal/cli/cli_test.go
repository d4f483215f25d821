package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"swarmfuse/internal/pipeline"
	"swarmfuse/internal/report"
)

func execute(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"session", "task", "run", "report", "serve", "doctor"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	if root.PersistentFlags().Lookup("home") == nil {
		t.Fatal("expected --home persistent flag")
	}
}

func TestSessionCreateListTeardown(t *testing.T) {
	home := t.TempDir()

	out, err := execute(t, home, "session", "create", "--name", "audit")
	if err != nil {
		t.Fatalf("session create: %v", err)
	}
	if !strings.Contains(out, `Created session "audit"`) {
		t.Errorf("create output: %q", out)
	}

	out, err = execute(t, home, "session", "list")
	if err != nil {
		t.Fatalf("session list: %v", err)
	}
	if !strings.Contains(out, "audit") || !strings.Contains(out, "status=active") {
		t.Errorf("list output: %q", out)
	}

	out, err = execute(t, home, "session", "teardown", "--name", "audit")
	if err != nil {
		t.Fatalf("session teardown: %v", err)
	}
	if !strings.Contains(out, "Removed") {
		t.Errorf("teardown output: %q", out)
	}

	out, err = execute(t, home, "session", "list")
	if err != nil {
		t.Fatalf("session list after teardown: %v", err)
	}
	if !strings.Contains(out, "No sessions.") {
		t.Errorf("expected empty list, got %q", out)
	}
}

func TestTaskAddListAudit(t *testing.T) {
	home := t.TempDir()
	if _, err := execute(t, home, "session", "create", "--name", "audit"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, home, "task", "add", "--session", "audit", "--subject", "internal/store")
	if err != nil {
		t.Fatalf("task add: %v", err)
	}
	if !strings.Contains(out, "Created task 1") {
		t.Errorf("add output: %q", out)
	}

	if _, err := execute(t, home, "task", "add", "--session", "audit", "--subject", "internal/api", "--depends-on", "1"); err != nil {
		t.Fatalf("task add with dep: %v", err)
	}

	out, err = execute(t, home, "task", "list", "--session", "audit")
	if err != nil {
		t.Fatalf("task list: %v", err)
	}
	if !strings.Contains(out, "internal/store") || !strings.Contains(out, "internal/api") {
		t.Errorf("list output: %q", out)
	}
	if !strings.Contains(out, "status=pending") {
		t.Errorf("expected pending tasks, got %q", out)
	}

	out, err = execute(t, home, "task", "audit", "--session", "audit")
	if err != nil {
		t.Fatalf("task audit: %v", err)
	}
	if !strings.Contains(out, "create by coordinator") {
		t.Errorf("audit output: %q", out)
	}
}

func TestTaskAdd_missingFlags(t *testing.T) {
	home := t.TempDir()
	if _, err := execute(t, home, "task", "add", "--session", "audit"); err == nil {
		t.Fatal("expected error without --subject")
	}
}

func TestSessionStatus_unknownSession(t *testing.T) {
	home := t.TempDir()
	if _, err := execute(t, home, "session", "status", "--name", "ghost"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestRun_endToEnd(t *testing.T) {
	home := t.TempDir()

	cfg := "poll_interval_sec: 0.01\nhard_timeout_sec: 10\nteardown_grace_sec: 1\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	plan := []planEntry{
		{Subject: "internal/store", Producer: "reviewer"},
		{Subject: "internal/api", Producer: "reviewer", DependsOn: []int{0}},
	}
	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatal(err)
	}
	planPath := filepath.Join(home, "plan.json")
	if err := os.WriteFile(planPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, home, "run", "--session", "nightly", "--plan", planPath, "--workers", "2")
	if err != nil {
		t.Fatalf("run: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "completed (2/2 tasks completed)") {
		t.Errorf("run output: %q", out)
	}

	reportPath := filepath.Join(pipeline.SessionDir(home, "nightly"), "report.json")
	raw, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var rep report.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		t.Fatalf("report parse: %v", err)
	}
	if rep.Outcome != "completed" {
		t.Errorf("report outcome: %q", rep.Outcome)
	}
}

func TestRun_requiresPlanOrSubject(t *testing.T) {
	home := t.TempDir()
	if _, err := execute(t, home, "run", "--session", "nightly"); err == nil {
		t.Fatal("expected error without a plan")
	}
}

func TestReportShow(t *testing.T) {
	home := t.TempDir()

	rep := report.Report{Session: "nightly", Outcome: "completed"}
	rep.Completeness.Completed = 1
	rep.Completeness.Expected = 1
	dir := pipeline.SessionDir(home, "nightly")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, home, "report", "show", "--session", "nightly")
	if err != nil {
		t.Fatalf("report show: %v", err)
	}
	if !strings.Contains(out, "completed (1/1 tasks completed)") {
		t.Errorf("show output: %q", out)
	}
}

func TestReportShow_missing(t *testing.T) {
	home := t.TempDir()
	if _, err := execute(t, home, "report", "show", "--session", "ghost"); err == nil {
		t.Fatal("expected error for missing report")
	}
}

func TestDoctor(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, home, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("doctor output: %q", out)
	}
}
