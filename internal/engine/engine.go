// Package engine runs the external reasoning engine as a subprocess.
//
// The payload is written to the child's stdin as JSON. The child answers on
// stdout, either with a JSON Result or with plain text that becomes the body.
// Every call has a hard deadline: SIGTERM first, then a kill once the grace
// period has passed.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/logging"
)

// Defaults for Runner fields left zero.
const (
	DefaultTimeout = 13 * time.Minute
	DefaultGrace   = 5 * time.Second
)

// Task tells the engine what to produce.
type Task string

const (
	TaskReply Task = "reply"
	TaskDraft Task = "draft"
)

// ThreadEntry is one earlier message in the same conversation.
type ThreadEntry struct {
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
	Body       string    `json:"body,omitempty"`
}

// Payload is the engine's stdin document.
type Payload struct {
	Task     Task          `json:"task"`
	Mode     string        `json:"mode"`
	Model    string        `json:"model,omitempty"`
	Tier     int           `json:"tier,omitempty"`
	Category string        `json:"category,omitempty"`
	From     string        `json:"from,omitempty"`
	Subject  string        `json:"subject,omitempty"`
	Body     string        `json:"body,omitempty"`
	Thread   []ThreadEntry `json:"thread,omitempty"`

	// Instructions is free text for the engine, e.g. "decline politely".
	Instructions string `json:"instructions,omitempty"`
}

// Usage is the token count the engine reports.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Result is the engine's answer.
type Result struct {
	Body     string        `json:"body"`
	Summary  string        `json:"summary,omitempty"`
	Model    string        `json:"model,omitempty"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"-"`
}

// Runner executes Command with Args for every call.
type Runner struct {
	Command string
	Args    []string
	Model   string
	Timeout time.Duration
	Grace   time.Duration
	Env     []string
	Log     *logging.Logger
}

// Run sends p to a fresh engine process and parses its answer.
func (r *Runner) Run(ctx context.Context, p Payload) (*Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	if p.Model == "" {
		p.Model = r.Model
	}

	input, err := json.Marshal(p)
	if err != nil {
		return nil, terrors.NewInternal(fmt.Errorf("marshal payload: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.Command, r.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	log := r.logger().Child("command", r.Command, "task", string(p.Task))
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		log.Warn("engine timed out", "timeout", timeout.String(), "elapsed_ms", elapsed.Milliseconds())
		return nil, terrors.NewExecutionTimeout(r.Command, timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return nil, terrors.NewExecutionFailed(fmt.Sprintf("engine %s: %s", r.Command, msg), runErr)
	}

	res := Parse(stdout.Bytes())
	if res.Model == "" {
		res.Model = p.Model
	}
	res.Duration = elapsed
	log.Debug("engine finished", "elapsed_ms", elapsed.Milliseconds(),
		"input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens)
	return res, nil
}

// Parse reads engine stdout. A JSON object with a body field is used as is;
// anything else becomes the body verbatim.
func Parse(out []byte) *Result {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var res Result
		if err := json.Unmarshal(trimmed, &res); err == nil && res.Body != "" {
			return &res
		}
	}
	return &Result{Body: string(trimmed)}
}

func (r *Runner) logger() *logging.Logger {
	if r.Log == nil {
		return logging.Nop()
	}
	return r.Log
}
