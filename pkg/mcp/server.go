package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/delta"
	"github.com/Sriram-PR/sitemap-builder/pkg/hygiene"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/orchestrate"
	"github.com/Sriram-PR/sitemap-builder/pkg/registry"
)

const (
	serverName    = "sitemap-builder"
	serverVersion = "1.0.0"
)

// NodeGenerator generates node trees and reports node state. *sitemap.Generator implements it.
type NodeGenerator interface {
	orchestrate.Generator
	Registry() *registry.Registry
	State(name string) models.NodeState
	InFlight(name string) bool
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger

	Generator NodeGenerator
	Delta     *delta.Service
	Validator *hygiene.Validator
	Publisher orchestrate.Publisher // nil when publishing is disabled
}

// Server wraps the MCP server with sitemap specific tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Generator == nil || cfg.Delta == nil || cfg.Validator == nil {
		return nil, fmt.Errorf("generator, delta service and validator are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	// Create the MCP server
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}

	// Register all tools
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("list_nodes",
				mcp.WithDescription("List the sitemap nodes of the configured tree with their state"),
			),
			Handler: s.handleListNodes,
		},
		{
			Tool: mcp.NewTool("generate_node",
				mcp.WithDescription("Start a background generation of a node and its subtree. Returns immediately with a job ID."),
				mcp.WithString("node",
					mcp.Required(),
					mcp.Description("Node name from the config file (e.g., 'sitemap', 'products')"),
				),
				mcp.WithBoolean("publish",
					mcp.Description("Upload the generated files to the configured bucket"),
				),
			),
			Handler: s.handleGenerateNode,
		},
		{
			Tool: mcp.NewTool("get_job_status",
				mcp.WithDescription("Get the status of a generation job"),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by generate_node"),
				),
			),
			Handler: s.handleGetJobStatus,
		},
		{
			Tool: mcp.NewTool("verify_sitemap",
				mcp.WithDescription("Check a written sitemap tree: references resolve, locs are unique, files respect protocol limits"),
				mcp.WithString("path",
					mcp.Description("Path relative to the output directory (defaults to the root node's file)"),
				),
			),
			Handler: s.handleVerifySitemap,
		},
		{
			Tool: mcp.NewTool("validate_url",
				mcp.WithDescription("Run the URL hygiene rules against one candidate URL"),
				mcp.WithString("url", mcp.Required(), mcp.Description("Absolute or site-relative URL")),
				mcp.WithNumber("status_code", mcp.Description("HTTP status the page answers with")),
				mcp.WithBoolean("noindex", mcp.Description("The page carries a noindex directive")),
				mcp.WithBoolean("non_canonical", mcp.Description("The page canonicalizes to another URL")),
				mcp.WithString("availability", mcp.Description("Product availability: in_stock, perennial, out_of_stock_temporary, out_of_stock_obsolete")),
				mcp.WithString("content_type", mcp.Description("Content type (product, category, blog, ...)")),
			),
			Handler: s.handleValidateURL,
		},
		{
			Tool: mcp.NewTool("record_change",
				mcp.WithDescription("Fingerprint the data of one URL and record it in today's delta set when it changed"),
				mcp.WithString("url", mcp.Required(), mcp.Description("Page URL")),
				mcp.WithString("canonical", mcp.Description("Canonical URL of the page")),
				mcp.WithNumber("price", mcp.Description("Current price")),
				mcp.WithNumber("stock", mcp.Description("Current stock level")),
				mcp.WithObject("metadata", mcp.Description("Other fields that affect the page")),
			),
			Handler: s.handleRecordChange,
		},
		{
			Tool: mcp.NewTool("get_delta_changes",
				mcp.WithDescription("List the URLs that changed on a day"),
				mcp.WithString("date", mcp.Description("YYYY-MM-DD, defaults to today")),
				mcp.WithNumber("max_results", mcp.Description("Maximum number of changes to return (default: 100, max: 1000)")),
			),
			Handler: s.handleGetDeltaChanges,
		},
		{
			Tool: mcp.NewTool("get_delta_stats",
				mcp.WithDescription("Count a day's changes by change type"),
				mcp.WithString("date", mcp.Description("YYYY-MM-DD, defaults to today")),
			),
			Handler: s.handleGetDeltaStats,
		},
		{
			Tool: mcp.NewTool("emit_delta",
				mcp.WithDescription("Write the delta sitemap of a day"),
				mcp.WithString("date", mcp.Description("YYYY-MM-DD, defaults to today")),
			),
			Handler: s.handleEmitDelta,
		},
		{
			Tool: mcp.NewTool("cleanup_deltas",
				mcp.WithDescription("Drop fingerprints and delta sets older than the retention window"),
			),
			Handler: s.handleCleanupDeltas,
		},
		{
			Tool: mcp.NewTool("get_delta_config",
				mcp.WithDescription("Show the effective delta tracking configuration"),
			),
			Handler: s.handleGetDeltaConfig,
		},
	}
	s.mcpServer.AddTools(tools...)

	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	// Cancel any running jobs
	s.jobManager.CancelAll()
	return nil
}
