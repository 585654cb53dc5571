package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ggoodman/azdo-boards-mcp/mcp"
)

// ErrToolNotFound is returned by CallTool when no tool has the requested name.
var ErrToolNotFound = errors.New("tool not found")

const defaultPageSize = 50

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolsContainer owns a threadsafe set of tool descriptors and handlers and
// implements ToolsCapability with index-based cursor pagination.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler

	pageSize int
}

var _ ToolsCapability = (*ToolsContainer)(nil)

// NewToolsContainer constructs a ToolsContainer. On duplicate names the last
// definition wins.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	st := &ToolsContainer{pageSize: defaultPageSize, handlers: make(map[string]ToolHandler, len(defs))}
	for _, d := range defs {
		st.add(d)
	}
	return st
}

func (st *ToolsContainer) add(d StaticTool) {
	name := d.Descriptor.Name
	if _, exists := st.handlers[name]; exists {
		for i, t := range st.tools {
			if t.Name == name {
				st.tools[i] = d.Descriptor
			}
		}
	} else {
		st.tools = append(st.tools, d.Descriptor)
	}
	st.handlers[name] = d.Handler
}

// SetPageSize sets the pagination size used by ListTools.
// A non-positive value is ignored.
func (st *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	st.mu.Lock()
	st.pageSize = n
	st.mu.Unlock()
}

// Snapshot returns a copy of the current tool descriptors.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// ListTools returns the page starting at cursor. Unparseable or out of range
// cursors restart from the first page.
func (st *ToolsContainer) ListTools(_ context.Context, cursor *string) (Page[mcp.Tool], error) {
	st.mu.RLock()
	all := make([]mcp.Tool, len(st.tools))
	copy(all, st.tools)
	pageSize := st.pageSize
	st.mu.RUnlock()

	start := 0
	if cursor != nil {
		if n, err := strconv.Atoi(*cursor); err == nil && n >= 0 && n <= len(all) {
			start = n
		}
	}
	end := min(start+pageSize, len(all))
	items := make([]mcp.Tool, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[mcp.Tool](strconv.Itoa(end))), nil
	}
	return NewPage(items), nil
}

// CallTool dispatches a request to the named tool. Unknown names yield an
// error wrapping ErrToolNotFound.
func (st *ToolsContainer) CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	st.mu.RLock()
	h := st.handlers[req.Name]
	st.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, req)
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
