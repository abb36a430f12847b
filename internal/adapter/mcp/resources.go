package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"concierge://capabilities",
			"Capability Catalog",
			mcplib.WithResourceDescription("Every action the concierge can perform"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCapabilitiesResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"concierge://audit/recent",
			"Recent Audit Trail",
			mcplib.WithResourceDescription("The most recent audit entries across all users"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAuditResource,
	)
}

func (s *Server) handleCapabilitiesResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Catalog == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"catalog not configured"}`,
			},
		}, nil
	}
	data, err := json.Marshal(s.deps.Catalog.Catalog())
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAuditResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Audit == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"audit reader not configured"}`,
			},
		}, nil
	}
	entries, err := s.deps.Audit.ListAudit(ctx, "", 50)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
