// Package streaminghttp implements the MCP streamable HTTP transport as a
// standard net/http handler.
//
// The MCP endpoint is mounted at both /mcp and / so clients configured with
// either URL work. A POST carrying initialize creates a session and returns
// its id in the Mcp-Session-Id header; every later request must echo that
// header. Requests are answered with a single Server-Sent Event, or with a
// plain JSON body when the client does not accept text/event-stream.
// Notifications are acknowledged with 202. GET opens an idle event stream that
// stays open until the client disconnects or the session is deleted. DELETE
// ends the session and cancels its in-flight tool calls.
//
// Session records live in a sessions.Store so several replicas can share
// them through sessions/redishost.
//
// Bearer authentication is optional. Without an authenticator every caller is
// served as auth.AnonymousUserID. With one, failures are reported with a
// WWW-Authenticate challenge and the Protected Resource Metadata document is
// published under /.well-known/oauth-protected-resource.
//
// Example:
//
//	h := streaminghttp.New(memoryhost.New(), server,
//	    streaminghttp.WithLogger(log),
//	)
//	http.ListenAndServe(":3000", h)
package streaminghttp
