// Package stdio implements the single-connection MCP transport over
// stdin/stdout. Each line on the reader is one JSON-RPC message; each
// response is written as one line on the writer.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : none (the process runs as the local user)
//	Sessions         : implicit, one per process
//	Concurrency      : requests are handled concurrently, writes are serialized
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "azdo-boards-mcp", Version: "0.1.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
//
// Serve returns nil when the reader reaches EOF, after in-flight requests
// have been answered.
package stdio
