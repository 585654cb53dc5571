// Package wellknown holds documents served under /.well-known/.
package wellknown

// ProtectedResourceMetadataPath is where the HTTP transport publishes its
// OAuth 2.0 Protected Resource Metadata (RFC 9728) when bearer auth is on.
const ProtectedResourceMetadataPath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata tells MCP clients which authorization server
// issues tokens accepted by this server.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}
