package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cmcp "github.com/conciergeos/concierge/internal/adapter/mcp"
	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/record"
	"github.com/conciergeos/concierge/internal/port/executor"
)

// --- Mocks ---

type mockCatalog struct {
	caps []capability.ToolCapability
}

func (m *mockCatalog) Catalog() []capability.ToolCapability {
	return m.caps
}

func (m *mockCatalog) Capability(action string) (capability.ToolCapability, bool) {
	for _, c := range m.caps {
		if c.Name == action {
			return c, true
		}
	}
	return capability.ToolCapability{}, false
}

type mockSimulator struct {
	sim *executor.Simulation
}

func (m *mockSimulator) Simulate(_ context.Context, _ string, _ map[string]any) *executor.Simulation {
	return m.sim
}

type mockAuditReader struct {
	entries []record.AuditEntry
}

func (m *mockAuditReader) ListAudit(_ context.Context, _ string, _ int) ([]record.AuditEntry, error) {
	return m.entries, nil
}

func testCatalog() *mockCatalog {
	return &mockCatalog{
		caps: []capability.ToolCapability{
			{Name: "open_url", RiskLevel: capability.RiskLow, Reversible: true},
			{Name: "send_email", RiskLevel: capability.RiskHigh, ExternalImpact: true},
		},
	}
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	cfg := cmcp.ServerConfig{
		Addr:    ":8090",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := cmcp.NewServer(cfg, cmcp.ServerDeps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestToolRegistration(t *testing.T) {
	s := cmcp.NewServer(cmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cmcp.ServerDeps{
		Catalog:   testCatalog(),
		Simulator: &mockSimulator{},
	})

	tools := s.MCPServer().ListTools()
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}

	expectedTools := map[string]bool{
		"list_capabilities": false,
		"get_capability":    false,
		"simulate_action":   false,
	}
	for name := range tools {
		if _, ok := expectedTools[name]; ok {
			expectedTools[name] = true
		} else {
			t.Errorf("unexpected tool: %s", name)
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleListCapabilities(t *testing.T) {
	s := cmcp.NewServer(cmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cmcp.ServerDeps{
		Catalog: testCatalog(),
	})

	tools := s.MCPServer().ListTools()
	listTool, ok := tools["list_capabilities"]
	if !ok {
		t.Fatal("list_capabilities tool not found")
	}

	result, err := listTool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "list_capabilities"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var caps []capability.ToolCapability
	if err := json.Unmarshal([]byte(text.Text), &caps); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(caps))
	}
}

func TestHandleGetCapabilityUnknown(t *testing.T) {
	s := cmcp.NewServer(cmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cmcp.ServerDeps{
		Catalog: testCatalog(),
	})

	tools := s.MCPServer().ListTools()
	getTool, ok := tools["get_capability"]
	if !ok {
		t.Fatal("get_capability tool not found")
	}

	result, err := getTool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "get_capability",
			Arguments: map[string]any{"action": "self_destruct"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown action")
	}
}

func TestHandleSimulateAction(t *testing.T) {
	s := cmcp.NewServer(cmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cmcp.ServerDeps{
		Simulator: &mockSimulator{
			sim: &executor.Simulation{
				WouldSucceed: true,
				Warnings:     []string{"device offline last seen 2h ago"},
			},
		},
	})

	tools := s.MCPServer().ListTools()
	simTool, ok := tools["simulate_action"]
	if !ok {
		t.Fatal("simulate_action tool not found")
	}

	result, err := simTool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "simulate_action",
			Arguments: map[string]any{
				"action": "light_set",
				"params": map[string]any{"room": "bedroom", "state": "off"},
			},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text := result.Content[0].(mcplib.TextContent)
	var sim executor.Simulation
	if err := json.Unmarshal([]byte(text.Text), &sim); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !sim.WouldSucceed {
		t.Fatal("expected WouldSucceed")
	}
}

func TestMissingDepsReturnToolErrors(t *testing.T) {
	s := cmcp.NewServer(cmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cmcp.ServerDeps{})

	for _, name := range []string{"list_capabilities", "get_capability", "simulate_action"} {
		tool, ok := s.MCPServer().ListTools()[name]
		if !ok {
			t.Fatalf("%s tool not found", name)
		}
		result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
			Params: mcplib.CallToolParams{
				Name:      name,
				Arguments: map[string]any{"action": "open_url"},
			},
		})
		if err != nil {
			t.Fatalf("%s handler error: %v", name, err)
		}
		if !result.IsError {
			t.Fatalf("%s: expected tool error with no deps", name)
		}
	}
}
