package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/azdo-boards-mcp/internal/engine"
	"github.com/ggoodman/azdo-boards-mcp/internal/jsonrpc"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
)

const defaultMaxMessageSize = 64 << 20

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all MCP semantics to the engine.
type Handler struct {
	r io.Reader
	w io.Writer
	l *slog.Logger

	maxMessageSize int

	srv mcpservice.ServerCapabilities

	writeMu sync.Mutex
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		r:              os.Stdin,
		w:              os.Stdout,
		l:              slog.Default(),
		maxMessageSize: defaultMaxMessageSize,
		srv:            srv,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	eng := engine.NewEngine(h.srv, engine.WithLogger(h.l))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, 64*1024), h.maxMessageSize)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	h.l.InfoContext(ctx, "stdio.serve.start")

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case err := <-readErr:
			// Answer what is already in flight before returning.
			wg.Wait()
			if err != nil {
				h.l.ErrorContext(ctx, "stdio.serve.read_fail", slog.String("err", err.Error()))
				return fmt.Errorf("read stdin: %w", err)
			}
			h.l.InfoContext(ctx, "stdio.serve.eof")
			return nil
		case line := <-lines:
			h.handleLine(ctx, eng, &wg, line)
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, eng *engine.Engine, wg *sync.WaitGroup, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if line[0] == '[' {
		h.writeResponse(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "batch requests are not supported", nil))
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		code := jsonrpc.ErrorCodeInvalidRequest
		text := "invalid request"
		if !json.Valid(line) {
			code = jsonrpc.ErrorCodeParseError
			text = "parse error"
		}
		h.l.InfoContext(ctx, "stdio.message.invalid", slog.String("err", err.Error()))
		h.writeResponse(ctx, jsonrpc.NewErrorResponse(nil, code, text, nil))
		return
	}

	switch msg.Type() {
	case "request":
		req := msg.AsRequest()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.writeResponse(ctx, eng.HandleRequest(ctx, "", req))
		}()
	case "notification":
		eng.HandleNotification(ctx, "", msg.AsRequest())
	default:
		// The server never issues requests, so client responses are stray.
		h.l.DebugContext(ctx, "stdio.message.unexpected_response", slog.String("id", msg.ID.String()))
	}
}

func (h *Handler) writeResponse(ctx context.Context, res *jsonrpc.Response) {
	b, err := json.Marshal(res)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.write.marshal_fail", slog.String("err", err.Error()))
		return
	}
	b = append(b, '\n')

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(b); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}
