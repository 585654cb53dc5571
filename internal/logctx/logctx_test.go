package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_InjectsGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(slog.NewJSONHandler(&buf, nil))).With(slog.String("component", "test"))

	ctx := WithRPCMessage(context.Background(), &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "azdo_get_work_item"})
	log.InfoContext(ctx, "engine.handle_request.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["component"] != "test" {
		t.Fatalf("expected attrs from With to survive, got %v", rec)
	}
	rpc, ok := rec["rpc"].(map[string]any)
	if !ok || rpc["method"] != "tools/call" || rpc["id"] != "7" {
		t.Fatalf("missing rpc group: %v", rec)
	}
	tool, ok := rec["tool"].(map[string]any)
	if !ok || tool["name"] != "azdo_get_work_item" {
		t.Fatalf("missing tool group: %v", rec)
	}
	if _, ok := rec["sess"]; ok {
		t.Fatalf("unexpected sess group: %v", rec)
	}
}
