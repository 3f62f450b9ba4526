package mcp

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/roasbeef/deckview/internal/build"
	"github.com/roasbeef/deckview/internal/deck"
)

// Presentations is the data access layer the tools operate on. The
// deckcache.Cache satisfies it.
type Presentations interface {
	List(ctx context.Context) ([]*deck.Record, error)
	Lookup(ctx context.Context, id string) (fn.Option[*deck.Record], error)
	Generate(ctx context.Context,
		req deck.GenerateRequest) (*deck.Record, error)
	Update(ctx context.Context, id string,
		patch deck.Patch) (*deck.Record, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Server wraps the MCP server with the presentation tools.
type Server struct {
	server *mcp.Server
	decks  Presentations
}

// Config holds configuration for the MCP server.
type Config struct {
	// Presentations serves every tool.
	Presentations Presentations

	// Name overrides the implementation name announced to clients.
	Name string
}

// NewServer creates a new MCP server with all presentation tools
// registered.
func NewServer(cfg Config) *Server {
	name := cfg.Name
	if name == "" {
		name = "deckview"
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: build.Version(),
	}, nil)

	s := &Server{
		server: mcpServer,
		decks:  cfg.Presentations,
	}
	s.registerTools()

	return s
}

// Run serves the MCP server on the given transport until ctx is done or the
// client disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	log.Infof("Serving MCP tools")

	return s.server.Run(ctx, transport)
}

// registerTools registers the presentation tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_presentations",
		Description: "List the signed in user's presentations",
	}, s.handleListPresentations)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_presentation",
		Description: "Get one presentation with its markdown source",
	}, s.handleGetPresentation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "generate_presentation",
		Description: "Generate a new presentation from markdown",
	}, s.handleGeneratePresentation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update_presentation",
		Description: "Change the title, markdown or theme of a presentation",
	}, s.handleUpdatePresentation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_presentation",
		Description: "Delete a presentation",
	}, s.handleDeletePresentation)
}
