package mcpservice

import (
	"context"

	"github.com/ggoodman/azdo-boards-mcp/mcp"
)

// ServerCapabilities is consumed by the engine to answer initialize,
// tools/list and tools/call.
type ServerCapabilities interface {
	GetServerInfo(ctx context.Context) mcp.ImplementationInfo
	GetInstructions(ctx context.Context) (string, bool)
	GetToolsCapability(ctx context.Context) (ToolsCapability, bool)
}

// ToolsCapability lists and invokes tools.
type ToolsCapability interface {
	ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error)
	CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// ServerOption configures NewServer.
type ServerOption func(*server)

type server struct {
	info         mcp.ImplementationInfo
	instructions *string
	tools        ToolsCapability
}

// NewServer builds a ServerCapabilities using functional options.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{info: mcp.ImplementationInfo{Name: "mcp-server", Version: "dev"}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the server info returned during initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.info = info }
}

// WithInstructions sets human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.instructions = &instr }
}

// WithToolsCapability wires the tools capability.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) { s.tools = cap }
}

func (s *server) GetServerInfo(context.Context) mcp.ImplementationInfo { return s.info }

func (s *server) GetInstructions(context.Context) (string, bool) {
	if s.instructions == nil {
		return "", false
	}
	return *s.instructions, true
}

func (s *server) GetToolsCapability(context.Context) (ToolsCapability, bool) {
	return s.tools, s.tools != nil
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures NewPage.
type PageOption[T any] func(*Page[T])

// NewPage builds a page from items.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithNextCursor sets the cursor for the following page.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) { p.NextCursor = &cursor }
}
