// Package mcp exposes the capability catalog over the Model Context
// Protocol so external agents can discover and dry-run concierge actions.
// Execution stays behind the pipeline; MCP clients get read-only tools
// plus simulation.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/record"
	"github.com/conciergeos/concierge/internal/port/executor"
)

// CatalogReader provides read access to registered capabilities.
type CatalogReader interface {
	Catalog() []capability.ToolCapability
	Capability(action string) (capability.ToolCapability, bool)
}

// Simulator dry-runs an action without causing side effects.
type Simulator interface {
	Simulate(ctx context.Context, action string, params map[string]any) *executor.Simulation
}

// AuditReader lists recent audit entries.
type AuditReader interface {
	ListAudit(ctx context.Context, userID string, limit int) ([]record.AuditEntry, error)
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the capabilities exposed through MCP. Nil fields degrade
// to tool errors, not panics.
type ServerDeps struct {
	Catalog   CatalogReader
	Simulator Simulator
	Audit     AuditReader
}

// Server hosts the MCP endpoint over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer creates an MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(true, true),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves MCP over streamable HTTP in the background. When the
// configured API key is non-empty every request must carry it.
func (s *Server) Start() error {
	stream := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           AuthMiddleware(s.cfg.APIKey, stream),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mcp server stopped", "error", err)
		}
	}()
	slog.Info("mcp server listening", "addr", s.cfg.Addr, "auth", s.cfg.APIKey != "")
	return nil
}

// Stop shuts the MCP endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown mcp server: %w", err)
	}
	return nil
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
