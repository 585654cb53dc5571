// Package mcp contains the Model Context Protocol wire types used by the
// server: initialization, tool listing and tool invocation, plus the content
// blocks carried in tool results.
//
// The package holds no transport logic. The stdio and streaminghttp packages
// frame these types on the wire, and mcpservice builds them when answering
// requests.
//
// JSON-RPC method names are enumerated as Method constants (for example
// ToolsCallMethod). Protocol versions the server is willing to speak are
// listed in SupportedProtocolVersions, newest first.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "No work items found"}},
//	}
package mcp
