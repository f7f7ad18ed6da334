// Package mcp exposes the conversation engine over the Model Context
// Protocol so agent tooling can drive and inspect bots without the HTTP API.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/store"
)

// MessageProcessor runs one conversation turn. Satisfied by *engine.Engine.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req engine.Request) (*engine.Reply, error)
}

// ParleyServerDeps holds the dependencies for creating a ParleyServer.
type ParleyServerDeps struct {
	Engine    MessageProcessor
	Store     store.Store
	Validator *graph.Validator
	Logger    *slog.Logger
}

// ParleyServer wraps an MCP server with conversation tool handlers.
type ParleyServer struct {
	engine    MessageProcessor
	store     store.Store
	validator *graph.Validator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewParleyServer creates a new ParleyServer with all tools registered.
func NewParleyServer(deps ParleyServerDeps) *ParleyServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ParleyServer{
		engine:    deps.Engine,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"parley",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Parley executes conversational workflow graphs. Use parley.chat to send a contact message through a bot, parley.session to inspect a conversation's state and goal evaluations, parley.validate to check a graph definition, and parley.bots to list configured bots."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ParleyServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ParleyServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *ParleyServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: chatTool(), Handler: s.handleChat},
		{Tool: sessionTool(), Handler: s.handleSession},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: botsTool(), Handler: s.handleBots},
	}
}

// --- Tool definitions ---

func chatTool() mcp.Tool {
	return mcp.NewTool("parley.chat",
		mcp.WithDescription("Send a contact message to a bot and get the reply"),
		mcp.WithString("bot_id", mcp.Required(), mcp.Description("ID of the bot handling the conversation")),
		mcp.WithString("contact_id", mcp.Required(), mcp.Description("ID of the contact sending the message")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The contact's message text")),
		mcp.WithString("session_id", mcp.Description("Resume a specific session (default: the contact's active session)")),
	)
}

func sessionTool() mcp.Tool {
	return mcp.NewTool("parley.session",
		mcp.WithDescription("Inspect a conversation session: state, variables, transcript, goal evaluations"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the session to inspect")),
		mcp.WithBoolean("include_transcript", mcp.Description("Include the full message transcript (default true)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("parley.validate",
		mcp.WithDescription("Validate a workflow graph definition without storing it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Graph definition object (nodes and edges)")),
	)
}

func botsTool() mcp.Tool {
	return mcp.NewTool("parley.bots",
		mcp.WithDescription("List configured bots and their workflow graphs"),
	)
}
