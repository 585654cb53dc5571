// Package sessions defines the session record kept for the streamable HTTP
// transport and the Store contract that persists it.
//
// A session is created by a successful initialize request and identified by
// the value returned in the Mcp-Session-Id header. Every later request on
// the HTTP transport must carry that id. Sessions expire after a sliding TTL
// and are removed explicitly by an HTTP DELETE.
//
// Two stores are provided: memoryhost keeps records in process and suits a
// single server instance; redishost keeps them in Redis so several instances
// behind a load balancer can share sessions. sessionhosttest holds a
// conformance suite both run.
package sessions
