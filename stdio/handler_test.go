package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/azdo-boards-mcp/internal/jsonrpc"
	"github.com/ggoodman/azdo-boards-mcp/mcp"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t       *testing.T
	stdinW  *io.PipeWriter
	stdoutR *bufio.Scanner
	outMu   sync.Mutex
	lines   []string
	done    chan error
}

type echoArgs struct {
	Message string `json:"message"`
}

func testServer(started chan<- struct{}) mcpservice.ServerCapabilities {
	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("echo", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			return w.AppendText(r.Args().Message)
		}, mcpservice.WithToolDescription("Echo a message")),
		mcpservice.NewTool("block", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		}),
	)
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "stdio-test", Version: "0.0.1"}),
		mcpservice.WithToolsCapability(tools),
	)
}

func newHarness(t *testing.T, srv mcpservice.ServerCapabilities) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := NewHandler(srv, WithIO(inR, outW), WithLogger(slog.Default()))

	th := &testHarness{t: t, stdinW: inW, stdoutR: bufio.NewScanner(outR), done: make(chan error, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		th.done <- h.Serve(ctx)
	}()

	go func() {
		for th.stdoutR.Scan() {
			line := strings.TrimSpace(th.stdoutR.Text())
			th.t.Logf("OUT: %s", line)
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
		time.Sleep(10 * time.Millisecond)
	})
	return th
}

func (th *testHarness) sendRaw(s string) {
	th.t.Helper()
	if _, err := th.stdinW.Write([]byte(s + "\n")); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) send(id int, method string, params any) {
	th.t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method}
	if id > 0 {
		req.ID = jsonrpc.NewRequestID(id)
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			th.t.Fatalf("marshal: %v", err)
		}
		req.Params = b
	}
	b, err := json.Marshal(req)
	if err != nil {
		th.t.Fatalf("marshal: %v", err)
	}
	th.sendRaw(string(b))
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) expectResponse() *jsonrpc.Response {
	th.t.Helper()
	line, err := th.nextLine(2 * time.Second)
	if err != nil {
		th.t.Fatal(err)
	}
	var res jsonrpc.Response
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		th.t.Fatalf("decode response %q: %v", line, err)
	}
	return &res
}

func TestStdio_InitializeListCall(t *testing.T) {
	th := newHarness(t, testServer(nil))

	th.send(1, "initialize", mcp.InitializeRequest{ProtocolVersion: "2025-03-26", ClientInfo: mcp.ImplementationInfo{Name: "client", Version: "0.0.1"}})
	res := th.expectResponse()
	var init mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &init); err != nil {
		t.Fatalf("decode initialize: %v", err)
	}
	if init.ProtocolVersion != "2025-03-26" || init.ServerInfo.Name != "stdio-test" {
		t.Fatalf("unexpected initialize result %+v", init)
	}

	th.send(0, "notifications/initialized", nil)

	th.send(2, "tools/list", nil)
	res = th.expectResponse()
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatalf("decode tools/list: %v", err)
	}
	if len(list.Tools) != 2 || list.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools %+v", list.Tools)
	}

	th.send(3, "tools/call", map[string]any{"name": "echo", "arguments": map[string]any{"message": "hello"}})
	res = th.expectResponse()
	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode tools/call: %v", err)
	}
	if out.Content[0].Text != "hello" {
		t.Fatalf("unexpected call result %+v", out)
	}
}

func TestStdio_Errors(t *testing.T) {
	th := newHarness(t, testServer(nil))

	th.sendRaw(`{not json`)
	res := th.expectResponse()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError || !res.ID.IsNil() {
		t.Fatalf("want parse error with null id, got %+v", res)
	}

	th.sendRaw(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	res = th.expectResponse()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("want invalid request, got %+v", res)
	}

	th.sendRaw(`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)
	res = th.expectResponse()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("want invalid request for batch, got %+v", res)
	}

	th.send(4, "prompts/list", nil)
	res = th.expectResponse()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("want method not found, got %+v", res)
	}

	th.send(5, "tools/call", map[string]any{"name": "missing"})
	res = th.expectResponse()
	if res.Error == nil || res.Error.Message != "tool not found: missing" {
		t.Fatalf("want tool not found, got %+v", res)
	}
}

func TestStdio_Cancel(t *testing.T) {
	started := make(chan struct{}, 1)
	th := newHarness(t, testServer(started))

	th.send(9, "tools/call", map[string]any{"name": "block"})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("tool did not start")
	}

	// A ping is answered while the tool call is still blocked.
	th.send(10, "ping", nil)
	res := th.expectResponse()
	if res.ID.String() != "10" {
		t.Fatalf("want ping response first, got %+v", res)
	}

	th.send(0, "notifications/cancelled", map[string]any{"requestId": 9})
	res = th.expectResponse()
	if res.ID.String() != "9" || res.Error == nil || res.Error.Message != "cancelled" {
		t.Fatalf("want cancelled response, got %+v", res)
	}
}

func TestStdio_EOF(t *testing.T) {
	th := newHarness(t, testServer(nil))
	th.send(1, "ping", nil)
	_ = th.expectResponse()
	_ = th.stdinW.Close()

	select {
	case err := <-th.done:
		if err != nil {
			t.Fatalf("Serve returned %v on EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return on EOF")
	}
}
