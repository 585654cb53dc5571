// Package mcpservice provides the building blocks the engine consumes to
// answer MCP requests: server info and instructions, and a tools capability
// backed by a ToolsContainer of typed tools.
//
// Tools are declared with NewTool over an argument struct. The struct is
// reflected into the advertised input schema with invopop/jsonschema; fields
// without `omitempty` are required. Before the handler runs, arguments are
// checked against that schema: missing required parameters, unknown
// parameters and ill-typed values produce an isError result and the handler
// is never invoked.
//
//	type GetArgs struct {
//	    ID int `json:"id" jsonschema_description:"Work item ID"`
//	}
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("get_thing", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[GetArgs]) error {
//	        return w.AppendText(fmt.Sprint(r.Args().ID))
//	    }, mcpservice.WithToolDescription("Get a thing")),
//	)
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
package mcpservice
