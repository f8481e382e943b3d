package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestRunDisabled(t *testing.T) {
	runner := NewRunner(Config{Enabled: false})

	result := runner.Run(context.Background(), []string{"python", "/tools/x.py"}, nil)
	if result.Status != StatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if result.Stderr != "sandbox_disabled" {
		t.Errorf("expected sandbox_disabled, got %s", result.Stderr)
	}
}

func TestRunMissingCommand(t *testing.T) {
	runner := NewRunner(Config{Enabled: true})

	result := runner.Run(context.Background(), nil, nil)
	if result.Stderr != "sandbox_command_missing" {
		t.Errorf("expected sandbox_command_missing, got %s", result.Stderr)
	}
}

func TestConfigDefaults(t *testing.T) {
	runner := NewRunner(Config{Enabled: true})

	if runner.cfg.Image != "python:3.12-slim" {
		t.Errorf("unexpected default image: %s", runner.cfg.Image)
	}
	if runner.cfg.Timeout != 10*time.Second {
		t.Errorf("unexpected default timeout: %v", runner.cfg.Timeout)
	}
	if runner.cfg.MemoryMB != 256 || runner.cfg.PidLimit != 64 {
		t.Errorf("unexpected resource defaults: %+v", runner.cfg)
	}
}

func TestDockerArgsIsolation(t *testing.T) {
	runner := NewRunner(Config{Enabled: true, MemoryMB: 128, ToolDir: "/opt/tools"})
	args := runner.dockerArgs([]string{"python", "/tools/x.py"})

	required := []string{"--network=none", "--read-only", "--memory", "128m"}
	for _, want := range required {
		found := false
		for _, arg := range args {
			if arg == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected docker arg %q in %v", want, args)
		}
	}

	if args[len(args)-2] != "python" || args[len(args)-1] != "/tools/x.py" {
		t.Errorf("expected command appended last, got %v", args)
	}
}
