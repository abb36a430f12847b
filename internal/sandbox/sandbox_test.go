package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/conciergeos/concierge/internal/config"
)

func hostExecutor(t *testing.T) *Executor {
	t.Helper()
	return New(config.Sandbox{
		UseIsolatedRuntime: false,
		Timeout:            10 * time.Second,
		OutputLimitBytes:   1 << 20,
	}, nil)
}

func TestSandboxEcho(t *testing.T) {
	e := hostExecutor(t)

	res := e.Execute(context.Background(), "echo", []string{"hello"}, Options{})
	if !res.Success {
		t.Fatalf("echo failed: %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if res.TimedOut || res.KilledByLimit {
		t.Fatal("clean exit must not set kill flags")
	}
}

func TestSandboxDisallowedCommand(t *testing.T) {
	e := hostExecutor(t)

	res := e.Execute(context.Background(), "curl", []string{"https://example.com"}, Options{})
	if res.Success {
		t.Fatal("disallowed command must fail")
	}
	if res.Stderr == "" {
		t.Fatal("expected an explanatory stderr")
	}
}

func TestSandboxTimeout(t *testing.T) {
	e := hostExecutor(t)

	res := e.ExecShell(context.Background(), "sleep 5", Options{Timeout: 200 * time.Millisecond})
	if res.Success {
		t.Fatal("timed-out run must not succeed")
	}
	if !res.TimedOut {
		t.Fatalf("timed_out not set: %+v", res)
	}
	if res.KilledByLimit {
		t.Fatal("timeout must not be reported as a limit kill")
	}
}

func TestSandboxOutputLimit(t *testing.T) {
	e := New(config.Sandbox{
		UseIsolatedRuntime: false,
		Timeout:            10 * time.Second,
		OutputLimitBytes:   1024,
	}, nil)

	res := e.ExecShell(context.Background(), "head -c 1000000 /dev/zero", Options{})
	if res.Success {
		t.Fatal("limit-killed run must not succeed")
	}
	if !res.KilledByLimit {
		t.Fatalf("killed_by_limit not set: %+v", res)
	}
	if len(res.Stdout)+len(res.Stderr) > 1024 {
		t.Fatalf("captured output exceeds the cap: %d bytes", len(res.Stdout)+len(res.Stderr))
	}
}

func TestSandboxExitCode(t *testing.T) {
	e := hostExecutor(t)

	res := e.ExecShell(context.Background(), "exit 3", Options{})
	if res.Success {
		t.Fatal("non-zero exit must not succeed")
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestSandboxStdin(t *testing.T) {
	e := hostExecutor(t)

	res := e.Execute(context.Background(), "cat", nil, Options{Input: "pass through"})
	if !res.Success {
		t.Fatalf("cat failed: %+v", res)
	}
	if res.Stdout != "pass through" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestSandboxMinimalEnv(t *testing.T) {
	e := hostExecutor(t)

	res := e.ExecShell(context.Background(), `printf '%s' "$HOME_ASSISTANT_TOKEN"`, Options{})
	if !res.Success {
		t.Fatalf("shell failed: %+v", res)
	}
	if res.Stdout != "" {
		t.Fatal("host environment must not leak into the sandbox")
	}
}
