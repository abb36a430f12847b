// Package sandbox runs commands and scripts with a bounded blast radius.
// It prefers an isolated container runtime and falls back to a restricted
// host path limited to an allow-list of interpreters.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	obs "github.com/conciergeos/concierge/internal/adapter/otel"
	"github.com/conciergeos/concierge/internal/config"
	"github.com/conciergeos/concierge/internal/domain/record"
	auditport "github.com/conciergeos/concierge/internal/port/audit"
)

// Result is the outcome of one sandboxed run. Policy violations, spawn
// failures and limit kills all come back as a Result with Success=false;
// the sandbox never returns an error across its public boundary.
type Result struct {
	Success       bool   `json:"success"`
	ExitCode      int    `json:"exit_code"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	TimedOut      bool   `json:"timed_out"`
	KilledByLimit bool   `json:"killed_by_limit"`
	DurationMS    int64  `json:"duration_ms"`
}

// Options tune a single run.
type Options struct {
	Input   string
	Env     map[string]string
	Dir     string
	Timeout time.Duration
}

// allowedHostCommands is the fixed allow-list for the restricted host path.
var allowedHostCommands = map[string]struct{}{
	"node":    {},
	"python3": {},
	"python":  {},
	"sh":      {},
	"bash":    {},
	"echo":    {},
	"cat":     {},
	"jq":      {},
}

// Executor runs commands under resource and output limits. It tracks every
// in-flight child so KillAll can reap them during shutdown.
type Executor struct {
	cfg     config.Sandbox
	audit   auditport.Sink
	metrics *obs.Metrics

	mu     sync.Mutex
	active map[string]*exec.Cmd
}

// SetMetrics attaches telemetry instruments.
func (e *Executor) SetMetrics(m *obs.Metrics) {
	e.metrics = m
}

// New creates a sandbox executor from config. A nil sink disables audit.
func New(cfg config.Sandbox, sink auditport.Sink) *Executor {
	if sink == nil {
		sink = auditport.Nop{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.OutputLimitBytes <= 0 {
		cfg.OutputLimitBytes = 1 << 20
	}
	return &Executor{
		cfg:    cfg,
		audit:  sink,
		active: make(map[string]*exec.Cmd),
	}
}

// Execute runs one command. It dispatches to the isolated runtime when
// configured and available, else to the restricted host path.
func (e *Executor) Execute(ctx context.Context, command string, args []string, opts Options) *Result {
	if e.cfg.UseIsolatedRuntime && dockerAvailable() {
		return e.runIsolated(ctx, command, args, opts)
	}
	return e.runRestricted(ctx, command, args, opts)
}

// ExecJS runs a JavaScript snippet through node.
func (e *Executor) ExecJS(ctx context.Context, code string, opts Options) *Result {
	return e.Execute(ctx, "node", []string{"-e", code}, opts)
}

// ExecPython runs a Python snippet.
func (e *Executor) ExecPython(ctx context.Context, code string, opts Options) *Result {
	return e.Execute(ctx, "python3", []string{"-c", code}, opts)
}

// ExecShell runs a shell command line.
func (e *Executor) ExecShell(ctx context.Context, script string, opts Options) *Result {
	return e.Execute(ctx, "sh", []string{"-c", script}, opts)
}

// KillAll forcibly terminates every tracked child process. Used during
// shutdown; new runs started afterwards are not prevented.
func (e *Executor) KillAll() {
	e.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(e.active))
	for _, cmd := range e.active {
		cmds = append(cmds, cmd)
	}
	e.mu.Unlock()

	for _, cmd := range cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	if len(cmds) > 0 {
		slog.Info("sandbox killed all children", "count", len(cmds))
	}
}

// runIsolated launches the command inside a throwaway container. Network is
// off unless enabled, the root filesystem is read-only with declared
// writable paths mounted as tmpfs, and memory/CPU ceilings apply.
func (e *Executor) runIsolated(ctx context.Context, command string, args []string, opts Options) *Result {
	name := "concierge-sbx-" + uuid.NewString()[:8]

	dockerArgs := []string{
		"run", "--rm", "-i",
		"--name", name,
		fmt.Sprintf("--memory=%dm", e.cfg.MemoryLimitMB),
		fmt.Sprintf("--cpus=%g", e.cfg.CPULimit),
		"--security-opt=no-new-privileges",
		"--cap-drop=ALL",
	}
	if !e.cfg.NetworkEnabled {
		dockerArgs = append(dockerArgs, "--network=none")
	}
	if e.cfg.ReadOnlyFilesystem {
		dockerArgs = append(dockerArgs, "--read-only")
	}
	writable := e.cfg.WritablePaths
	if len(writable) == 0 {
		writable = []string{"/tmp"}
	}
	for _, p := range writable {
		dockerArgs = append(dockerArgs, "--tmpfs", p)
	}
	for k, v := range opts.Env {
		dockerArgs = append(dockerArgs, "-e", k+"="+v)
	}
	dockerArgs = append(dockerArgs, e.cfg.Image, command)
	dockerArgs = append(dockerArgs, args...)

	res := e.run(ctx, "docker", dockerArgs, opts, true)
	if res.TimedOut || res.KilledByLimit {
		// Killing the client can leave the container behind.
		rmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = exec.CommandContext(rmCtx, "docker", "rm", "-f", name).Run()
	}
	return res
}

// runRestricted runs the command directly on the host with a minimal
// environment and a scratch working directory. Only allow-listed commands
// may run.
func (e *Executor) runRestricted(ctx context.Context, command string, args []string, opts Options) *Result {
	if _, ok := allowedHostCommands[command]; !ok {
		return &Result{
			Success:  false,
			ExitCode: -1,
			Stderr:   fmt.Sprintf("command %q is not permitted outside the isolated runtime", command),
		}
	}

	scratch, err := os.MkdirTemp("", "concierge-sbx-")
	if err != nil {
		return &Result{Success: false, ExitCode: -1, Stderr: "scratch dir: " + err.Error()}
	}
	defer os.RemoveAll(scratch)

	if opts.Dir == "" {
		opts.Dir = scratch
	}
	env := map[string]string{
		"PATH": "/usr/local/bin:/usr/bin:/bin",
		"HOME": scratch,
		"LANG": "C.UTF-8",
	}
	for k, v := range opts.Env {
		env[k] = v
	}
	opts.Env = env

	return e.run(ctx, command, args, opts, false)
}

// run spawns the child, pumps output under the byte ceiling and waits for
// the first of three kill conditions: wall-clock timeout, output limit
// breach, process exit.
func (e *Executor) run(ctx context.Context, command string, args []string, opts Options, sandboxedEnv bool) *Result {
	timeout := opts.Timeout
	if timeout <= 0 || timeout > e.cfg.Timeout {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = opts.Dir
	if !sandboxedEnv {
		cmd.Env = flattenEnv(opts.Env)
	}
	if opts.Input != "" {
		cmd.Stdin = strings.NewReader(opts.Input)
	}

	limit := newOutputLimit(e.cfg.OutputLimitBytes, cancel)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return &Result{Success: false, ExitCode: -1, Stderr: "stdout pipe: " + err.Error()}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return &Result{Success: false, ExitCode: -1, Stderr: "stderr pipe: " + err.Error()}
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return &Result{Success: false, ExitCode: -1, Stderr: "spawn: " + err.Error()}
	}

	id := uuid.NewString()
	e.track(id, cmd)
	defer e.untrack(id)

	stdout := limit.stream()
	stderr := limit.stream()
	var g errgroup.Group
	g.Go(func() error { _, err := io.Copy(stdout, stdoutPipe); return err })
	g.Go(func() error { _, err := io.Copy(stderr, stderrPipe); return err })
	_ = g.Wait()

	waitErr := cmd.Wait()
	duration := time.Since(started)

	res := &Result{
		ExitCode:      cmd.ProcessState.ExitCode(),
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		TimedOut:      runCtx.Err() == context.DeadlineExceeded && !limit.exceeded(),
		KilledByLimit: limit.exceeded(),
		DurationMS:    duration.Milliseconds(),
	}
	res.Success = waitErr == nil && !res.TimedOut && !res.KilledByLimit

	if res.TimedOut || res.KilledByLimit {
		if e.metrics != nil {
			e.metrics.SandboxKills.Add(context.Background(), 1)
		}
		e.audit.Log(context.Background(), record.EventSandboxKilled, map[string]any{
			"command":         command,
			"timed_out":       res.TimedOut,
			"killed_by_limit": res.KilledByLimit,
			"duration_ms":     res.DurationMS,
		})
		slog.Warn("sandboxed process killed",
			"command", command,
			"timed_out", res.TimedOut,
			"killed_by_limit", res.KilledByLimit,
		)
	}
	return res
}

func (e *Executor) track(id string, cmd *exec.Cmd) {
	e.mu.Lock()
	e.active[id] = cmd
	e.mu.Unlock()
}

func (e *Executor) untrack(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func dockerAvailable() bool {
	_, err := exec.LookPath("docker")
	return err == nil
}
