package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listCapabilitiesTool(),
		s.getCapabilityTool(),
		s.simulateActionTool(),
	)
}

func (s *Server) listCapabilitiesTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_capabilities",
		mcplib.WithDescription("List every action the concierge can perform, with risk levels and parameter schemas"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListCapabilities,
	}
}

func (s *Server) getCapabilityTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_capability",
		mcplib.WithDescription("Get the full declaration of a single action by name"),
		mcplib.WithString("action",
			mcplib.Required(),
			mcplib.Description("The action name to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetCapability,
	}
}

func (s *Server) simulateActionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("simulate_action",
		mcplib.WithDescription("Dry-run an action and report its predicted side effects without executing anything"),
		mcplib.WithString("action",
			mcplib.Required(),
			mcplib.Description("The action name to simulate"),
		),
		mcplib.WithObject("params",
			mcplib.Description("Parameters for the action"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleSimulateAction,
	}
}

func (s *Server) handleListCapabilities(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Catalog == nil {
		return mcplib.NewToolResultError("catalog not configured"), nil
	}
	data, err := json.Marshal(s.deps.Catalog.Catalog())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal catalog", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetCapability(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Catalog == nil {
		return mcplib.NewToolResultError("catalog not configured"), nil
	}
	args := req.GetArguments()
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return mcplib.NewToolResultError("action is required"), nil
	}
	c, ok := s.deps.Catalog.Capability(action)
	if !ok {
		return mcplib.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal capability", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleSimulateAction(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Simulator == nil {
		return mcplib.NewToolResultError("simulator not configured"), nil
	}
	args := req.GetArguments()
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return mcplib.NewToolResultError("action is required"), nil
	}
	params, _ := args["params"].(map[string]any)

	sim := s.deps.Simulator.Simulate(ctx, action, params)
	data, err := json.Marshal(sim)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal simulation", err), nil
	}
	return toolResultJSON(string(data)), nil
}
