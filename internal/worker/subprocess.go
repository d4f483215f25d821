package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// SubprocessRuntime runs an external producer binary per task: stdin is a
// JSON request, stdout is NDJSON events, and the producer writes its own
// findings artifact to the output path passed in the request and via
// SWARMFUSE_OUTPUT_PATH.
type SubprocessRuntime struct {
	Command string
	Args    []string
	Timeout time.Duration // 0 = use context only
}

type subprocessRequest struct {
	Session    string `json:"session"`
	Worker     string `json:"worker"`
	TaskID     int64  `json:"task_id"`
	Subject    string `json:"subject"`
	OutputPath string `json:"output_path"`
}

func (r SubprocessRuntime) Name() string { return "subprocess" }

func (r SubprocessRuntime) RunTask(ctx context.Context, req TaskRequest, emit func(Event)) (TaskResult, error) {
	if r.Command == "" {
		return TaskResult{}, errors.New("subprocess command is required")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Env = append(os.Environ(),
		"SWARMFUSE_SESSION="+req.Session,
		"SWARMFUSE_OUTPUT_PATH="+req.OutputPath,
	)

	reqJSON, err := json.Marshal(subprocessRequest{
		Session:    req.Session,
		Worker:     req.Worker,
		TaskID:     req.TaskID,
		Subject:    req.Subject,
		OutputPath: req.OutputPath,
	})
	if err != nil {
		return TaskResult{}, err
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return TaskResult{}, err
	}
	if err := cmd.Start(); err != nil {
		return TaskResult{}, err
	}

	var res TaskResult
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			slog.Debug("subprocess emitted non-event line", "line", line)
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		if ev.TaskID == nil {
			id := req.TaskID
			ev.TaskID = &id
		}
		if n, ok := ev.Data["findings"].(float64); ok {
			res.FindingCount = int(n)
		}
		emit(ev)
	}
	scanErr := sc.Err()
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return TaskResult{}, ctx.Err()
		}
		return TaskResult{}, err
	}
	if scanErr != nil {
		return TaskResult{}, scanErr
	}
	return res, nil
}
