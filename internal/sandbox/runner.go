package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Result is the raw outcome of one sandboxed execution. Only sanitized
// derivatives of it are ever persisted.
type Result struct {
	Status   string `json:"status"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Config bounds the isolation environment.
type Config struct {
	Enabled  bool
	Image    string
	Timeout  time.Duration
	MemoryMB int
	CPU      string
	PidLimit int
	ToolDir  string
}

// Runner launches untrusted commands inside a locked-down container: no
// network, read-only root, non-executable tmpfs, capped pids/cpu/memory,
// hard wall-clock timeout. The payload goes in on stdin as one JSON
// message; stdout is the sole result channel.
type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) *Runner {
	if cfg.Image == "" {
		cfg.Image = "python:3.12-slim"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = 256
	}
	if cfg.CPU == "" {
		cfg.CPU = "0.5"
	}
	if cfg.PidLimit <= 0 {
		cfg.PidLimit = 64
	}
	if cfg.ToolDir == "" {
		cfg.ToolDir = "sandbox_tools"
	}
	return &Runner{cfg: cfg}
}

// Run executes command inside the sandbox. Disabled or unavailable
// isolation fails fast; it never silently executes unsandboxed.
func (r *Runner) Run(ctx context.Context, command []string, payload map[string]any) Result {
	if !r.cfg.Enabled {
		return Result{Status: StatusError, Stderr: "sandbox_disabled", ExitCode: 1}
	}
	if len(command) == 0 {
		return Result{Status: StatusError, Stderr: "sandbox_command_missing", ExitCode: 1}
	}
	if _, err := exec.LookPath("docker"); err != nil {
		return Result{Status: StatusError, Stderr: "sandbox_unavailable", ExitCode: 1}
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		return Result{Status: StatusError, Stderr: "sandbox_payload_invalid", ExitCode: 1}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", r.dockerArgs(command)...)
	cmd.Stdin = bytes.NewReader(serialized)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Guarantee the client process is reaped even if it ignores the kill.
	cmd.WaitDelay = 5 * time.Second

	err = cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		log.Warn().Strs("command", command).Dur("timeout", r.cfg.Timeout).Msg("sandbox execution timed out")
		return Result{Status: StatusTimeout, Stderr: "sandbox_timeout", ExitCode: 124}
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{Status: StatusError, Stderr: fmt.Sprintf("sandbox_launch_failed: %v", err), ExitCode: 1}
		}
	}

	status := StatusOK
	if exitCode != 0 {
		status = StatusError
	}
	return Result{
		Status:   status,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: exitCode,
	}
}

func (r *Runner) dockerArgs(command []string) []string {
	args := []string{
		"run",
		"--rm",
		"--network=none",
		"--read-only",
		fmt.Sprintf("--pids-limit=%d", r.cfg.PidLimit),
		"--cpus", r.cfg.CPU,
		"--memory", fmt.Sprintf("%dm", r.cfg.MemoryMB),
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--volume", fmt.Sprintf("%s:/tools:ro", r.cfg.ToolDir),
		"--workdir", "/tools",
		r.cfg.Image,
	}
	return append(args, command...)
}
