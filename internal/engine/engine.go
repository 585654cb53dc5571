// Package engine routes MCP JSON-RPC methods to the server capabilities. It
// is shared by the stdio and streamable HTTP transports so both answer every
// method identically.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ggoodman/azdo-boards-mcp/internal/jsonrpc"
	"github.com/ggoodman/azdo-boards-mcp/internal/logctx"
	"github.com/ggoodman/azdo-boards-mcp/mcp"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
)

// Engine dispatches requests and notifications. Scope strings partition
// in-flight tool calls so that a cancellation from one HTTP session cannot
// cancel a request with the same id in another; stdio uses the empty scope.
type Engine struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger

	toolCtxMu      sync.Mutex
	toolCtxCancels map[string]context.CancelCauseFunc // scope|reqID -> cancel func
}

// EngineOption configures NewEngine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		srv:            srv,
		log:            slog.Default(),
		toolCtxCancels: make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize builds the initialize result for req, negotiating the protocol
// version against the supported set.
func (e *Engine) Initialize(ctx context.Context, req *mcp.InitializeRequest) *mcp.InitializeResult {
	res := &mcp.InitializeResult{
		ProtocolVersion: mcp.NegotiateProtocolVersion(req.ProtocolVersion),
		ServerInfo:      e.srv.GetServerInfo(ctx),
	}
	if instr, ok := e.srv.GetInstructions(ctx); ok {
		res.Instructions = instr
	}
	if _, ok := e.srv.GetToolsCapability(ctx); ok {
		res.Capabilities.Tools = &mcp.ToolsCapability{}
	}
	return res
}

// HandleRequest answers a single request. It never returns nil and never
// panics; handler panics are reported as internal errors.
func (e *Engine) HandleRequest(ctx context.Context, scope string, req *jsonrpc.Request) (res *jsonrpc.Response) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "engine.handle_request.panic",
				slog.String("err", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
				slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
	}()

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, log, start, req)
	case mcp.PingMethod:
		return e.result(ctx, log, start, req, &mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, log, start, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, log, start, scope, req)
	}

	log.InfoContext(ctx, "engine.handle_request.unknown_method", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
}

func (e *Engine) result(ctx context.Context, log *slog.Logger, start time.Time, req *jsonrpc.Request, v any, attrs ...slog.Attr) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	attrs = append(attrs, slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	log.LogAttrs(ctx, slog.LevelInfo, "engine.handle_request.ok", attrs...)
	return res
}

func (e *Engine) invalid(ctx context.Context, log *slog.Logger, start time.Time, req *jsonrpc.Request, reason string) *jsonrpc.Response {
	log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", reason), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, reason, nil)
}

func (e *Engine) handleInitialize(ctx context.Context, log *slog.Logger, start time.Time, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return e.invalid(ctx, log, start, req, "invalid params")
		}
	}
	init := e.Initialize(ctx, &params)
	return e.result(ctx, log, start, req, init,
		slog.String("client", params.ClientInfo.Name),
		slog.String("protocol_version", init.ProtocolVersion))
}

func (e *Engine) handleToolsList(ctx context.Context, log *slog.Logger, start time.Time, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return e.invalid(ctx, log, start, req, "invalid params")
		}
	}

	cap, ok := e.srv.GetToolsCapability(ctx)
	if !ok {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil)
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := cap.ListTools(ctx, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}

	result := &mcp.ListToolsResult{Tools: page.Items}
	if result.Tools == nil {
		result.Tools = []mcp.Tool{}
	}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}
	return e.result(ctx, log, start, req, result, slog.Int("tool_count", len(page.Items)))
}

func (e *Engine) handleToolCall(ctx context.Context, log *slog.Logger, start time.Time, scope string, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return e.invalid(ctx, log, start, req, "invalid params")
	}
	if params.Name == "" {
		return e.invalid(ctx, log, start, req, "missing tool name")
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	cap, ok := e.srv.GetToolsCapability(ctx)
	if !ok {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil)
	}

	// Track the call so notifications/cancelled can find it.
	key := inflightKey(scope, req.ID.String())
	toolCtx, toolCancel := context.WithCancelCause(ctx)
	defer toolCancel(context.Canceled)

	e.toolCtxMu.Lock()
	if _, exists := e.toolCtxCancels[key]; exists {
		e.toolCtxMu.Unlock()
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", "duplicate request ID"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "duplicate request id", nil)
	}
	e.toolCtxCancels[key] = toolCancel
	e.toolCtxMu.Unlock()

	defer func() {
		e.toolCtxMu.Lock()
		delete(e.toolCtxCancels, key)
		e.toolCtxMu.Unlock()
	}()

	res, err := cap.CallTool(toolCtx, &params)
	if err != nil {
		switch {
		case errors.Is(err, mcpservice.ErrToolNotFound):
			log.InfoContext(ctx, "engine.handle_request.tool_not_found", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "tool not found: "+params.Name, nil)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || toolCtx.Err() != nil:
			log.InfoContext(ctx, "engine.handle_request.cancelled",
				slog.String("cause", context.Cause(toolCtx).Error()),
				slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil)
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}

	return e.result(ctx, log, start, req, res, slog.Bool("is_error", res.IsError))
}

// HandleNotification processes a client notification. Unknown notifications
// are ignored.
func (e *Engine) HandleNotification(ctx context.Context, scope string, note *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})

	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.InfoContext(ctx, "engine.session.initialized")
	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &id); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		found := e.CancelInFlightRequest(scope, id.String(), params.Reason)
		e.log.InfoContext(ctx, "engine.handle_notification.cancel", slog.String("request_id", id.String()), slog.Bool("found", found))
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
}

// CancelInFlightRequest cancels the tool call with reqID in scope. It reports
// whether such a call was running.
func (e *Engine) CancelInFlightRequest(scope, reqID, reason string) bool {
	if reqID == "" {
		return false
	}
	e.toolCtxMu.Lock()
	cancel, exists := e.toolCtxCancels[inflightKey(scope, reqID)]
	e.toolCtxMu.Unlock()

	if !exists {
		return false
	}
	if reason == "" {
		reason = "cancelled"
	}
	cancel(errors.New(reason))
	return true
}

// CancelScope cancels every in-flight call in scope, used when an HTTP
// session is deleted.
func (e *Engine) CancelScope(scope string) {
	prefix := scope + "|"
	e.toolCtxMu.Lock()
	defer e.toolCtxMu.Unlock()
	for k, cancel := range e.toolCtxCancels {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			cancel(errors.New("session closed"))
		}
	}
}

func inflightKey(scope, reqID string) string { return scope + "|" + reqID }
