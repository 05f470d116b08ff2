package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/alanyang/task-mesh/internal/domain/task"
	portexec "github.com/alanyang/task-mesh/internal/port/executor"
)

const (
	TypeEcho  = "echo"
	TypeSleep = "sleep"
	TypeExec  = "exec"
)

var ErrMissingProperty = errors.New("missing required property")

// RegisterBuiltins installs the executors every controller ships with.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(TypeEcho, portexec.ExecutorFunc(Echo))
	r.MustRegister(TypeSleep, portexec.ExecutorFunc(Sleep))
	r.MustRegister(TypeExec, portexec.ExecutorFunc(Exec))
}

// Echo returns its properties as the payload.
func Echo(_ context.Context, props task.Properties) (json.RawMessage, error) {
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("echo: %w", err)
	}
	return data, nil
}

// Sleep waits for the "duration" property (Go duration syntax).
func Sleep(ctx context.Context, props task.Properties) (json.RawMessage, error) {
	raw, ok := props.Get("duration")
	if !ok {
		return nil, fmt.Errorf("sleep: duration: %w", ErrMissingProperty)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("sleep: parse duration: %w", err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return json.RawMessage(fmt.Sprintf(`{"slept":%q}`, d)), nil
}

type execResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
}

// Exec runs the "command" property with whitespace-separated "args".
func Exec(ctx context.Context, props task.Properties) (json.RawMessage, error) {
	command, ok := props.Get("command")
	if !ok || command == "" {
		return nil, fmt.Errorf("exec: command: %w", ErrMissingProperty)
	}
	var args []string
	if raw, ok := props.Get("args"); ok {
		args = strings.Fields(raw)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	if dir, ok := props.Get("dir"); ok {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := execResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		return nil, fmt.Errorf("exec %s: %w (stderr: %s)", command, runErr, strings.TrimSpace(res.Stderr))
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("exec: encode result: %w", err)
	}
	return data, nil
}
