package system

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/conciergeos/concierge/internal/config"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/sandbox"
)

func newSystemExecutor() *Executor {
	sb := sandbox.New(config.Sandbox{
		UseIsolatedRuntime: false,
		Timeout:            10 * time.Second,
		OutputLimitBytes:   1 << 20,
	}, nil)
	return New(sb)
}

func TestOpenURLRejectsNonHTTP(t *testing.T) {
	e := newSystemExecutor()

	res, err := e.Execute(context.Background(), ActionOpenURL, map[string]any{"url": "file:///etc/passwd"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("non-http scheme must be rejected")
	}
	if res.Error.Code != effect.CodeValidationFailed {
		t.Fatalf("code = %s", res.Error.Code)
	}
}

func TestOpenURLSimulate(t *testing.T) {
	e := newSystemExecutor()

	sim, err := e.Simulate(context.Background(), ActionOpenURL, map[string]any{"url": "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !sim.WouldSucceed {
		t.Fatal("open_url simulation should predict success")
	}
	se := sim.PredictedSideEffects[0]
	if se.Type != effect.TypeProcessSpawn || se.Severity != effect.SeverityMajor {
		t.Fatalf("predicted effect = %+v", se)
	}
}

func TestRunScriptShell(t *testing.T) {
	e := newSystemExecutor()

	res, err := e.Execute(context.Background(), ActionRunScript, map[string]any{
		"language": "shell",
		"code":     "echo scripted",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("script failed: %+v", res.Error)
	}
	out := res.Output.(map[string]any)
	if strings.TrimSpace(out["stdout"].(string)) != "scripted" {
		t.Fatalf("stdout = %q", out["stdout"])
	}
	if !res.Meta.Sandboxed {
		t.Error("scripts must run sandboxed")
	}
}

func TestRunScriptFailureCodes(t *testing.T) {
	e := newSystemExecutor()

	res, _ := e.Execute(context.Background(), ActionRunScript, map[string]any{
		"language": "shell",
		"code":     "exit 7",
	})
	if res.Success {
		t.Fatal("failing script must not succeed")
	}
	if res.Error.Code != effect.CodeExecutionError {
		t.Fatalf("code = %s", res.Error.Code)
	}
}

func TestRunScriptValidation(t *testing.T) {
	e := newSystemExecutor()

	v := e.Validate(ActionRunScript, map[string]any{"language": "ruby", "code": "puts 1"})
	if v.Valid {
		t.Fatal("language outside the enum must fail")
	}
	v = e.Validate(ActionRunScript, map[string]any{"language": "shell", "code": "true"})
	if !v.Valid {
		t.Fatalf("valid params rejected: %v", v.Errors)
	}
}
