package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/ggoodman/azdo-boards-mcp/auth"
	"github.com/ggoodman/azdo-boards-mcp/internal/engine"
	"github.com/ggoodman/azdo-boards-mcp/internal/jsonrpc"
	"github.com/ggoodman/azdo-boards-mcp/internal/logctx"
	"github.com/ggoodman/azdo-boards-mcp/internal/wellknown"
	"github.com/ggoodman/azdo-boards-mcp/mcp"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
	"github.com/ggoodman/azdo-boards-mcp/sessions"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

var eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}

const (
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	defaultSessionTTL     = time.Hour
	defaultMaxMessageSize = 64 << 20
	keepAliveInterval     = 30 * time.Second
)

// writeJSONError writes a small JSON error envelope for transport-level
// failures that happen before a JSON-RPC exchange exists.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": msg},
	})
}

// Option configures New.
type Option func(*StreamingHTTPHandler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *StreamingHTTPHandler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithAuthenticator requires a valid bearer token on every MCP request.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(h *StreamingHTTPHandler) { h.auth = a }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(h *StreamingHTTPHandler) { h.realm = realm }
}

// WithProtectedResource publishes Protected Resource Metadata naming the
// authorization server that issues accepted tokens.
func WithProtectedResource(resourceURL, issuer string, scopes ...string) Option {
	return func(h *StreamingHTTPHandler) {
		h.prm = &wellknown.ProtectedResourceMetadata{
			Resource:               resourceURL,
			AuthorizationServers:   []string{issuer},
			ScopesSupported:        scopes,
			BearerMethodsSupported: []string{"header"},
			ResourceName:           "azdo-boards-mcp",
		}
	}
}

// WithSessionTTL sets the idle lifetime of sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(h *StreamingHTTPHandler) {
		if ttl > 0 {
			h.sessionTTL = ttl
		}
	}
}

// WithMaxMessageSize bounds the size of a POSTed message body. Larger
// bodies are rejected with 413.
func WithMaxMessageSize(n int64) Option {
	return func(h *StreamingHTTPHandler) {
		if n > 0 {
			h.maxMessageSize = n
		}
	}
}

// buildBearerChallenge builds a Bearer challenge header value:
//
//	Bearer realm="<realm>", resource_metadata="<url>", error="...", error_description="..."
//
// Empty parts are omitted.
func buildBearerChallenge(realm, resourceMetadata, errCode, errDescription string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	var pieces []string
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if errCode != "" {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(errCode)))
	}
	if errDescription != "" {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(errDescription)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// StreamingHTTPHandler serves the MCP streamable HTTP transport.
type StreamingHTTPHandler struct {
	eng        *engine.Engine
	store      sessions.Store
	auth       auth.Authenticator
	log        *slog.Logger
	realm      string
	prm        *wellknown.ProtectedResourceMetadata
	sessionTTL time.Duration
	now        func() time.Time

	maxMessageSize int64

	mux *http.ServeMux

	streamsMu sync.Mutex
	streams   map[string]map[*lockedWriteFlusher]context.CancelFunc // session id -> open GET streams
}

type lockedWriteFlusher struct {
	io.Writer
	http.Flusher

	mu sync.Mutex
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Flusher.Flush()
}

var _ http.Handler = (*StreamingHTTPHandler)(nil)

// New builds the handler. Sessions are persisted in store and requests are
// dispatched to server.
func New(store sessions.Store, server mcpservice.ServerCapabilities, opts ...Option) *StreamingHTTPHandler {
	h := &StreamingHTTPHandler{
		store:          store,
		log:            slog.Default(),
		sessionTTL:     defaultSessionTTL,
		maxMessageSize: defaultMaxMessageSize,
		now:            time.Now,
		streams:        make(map[string]map[*lockedWriteFlusher]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.eng = engine.NewEngine(server, engine.WithLogger(h.log))

	mux := http.NewServeMux()
	for _, p := range []string{"/mcp", "/{$}"} {
		mux.HandleFunc("POST "+p, h.handlePostMCP)
		mux.HandleFunc("GET "+p, h.handleGetMCP)
		mux.HandleFunc("DELETE "+p, h.handleDeleteMCP)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	if h.prm != nil {
		mux.HandleFunc("GET "+wellknown.ProtectedResourceMetadataPath, h.handleGetProtectedResourceMetadata)
		mux.HandleFunc("OPTIONS "+wellknown.ProtectedResourceMetadataPath, h.handleOptionsProtectedResourceMetadata)
	}
	h.mux = mux
	return h
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handlePostMCP accepts one JSON-RPC message per request.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxMessageSize)).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "message too large")
			h.log.WarnContext(ctx, "http.post.too_large", slog.Int64("limit", tooLarge.Limit))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.initializeSession(ctx, w, userInfo, &msg, start)
		return
	}

	sess, ok := h.loadSession(ctx, w, sessID, userInfo)
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID,
		UserID:          sess.UserID,
		ProtocolVersion: sess.ProtocolVersion,
	})

	if msg.Method == string(mcp.InitializeMethod) && msg.Type() == "request" {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}
	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)

	switch msg.Type() {
	case "notification":
		note := msg.AsRequest()
		if note.Method == string(mcp.InitializedNotificationMethod) {
			if err := h.store.Mutate(ctx, sess.SessionID, func(m *sessions.Metadata) error {
				m.State = sessions.StateOpen
				return nil
			}); err != nil {
				h.log.ErrorContext(ctx, "session.open.fail", slog.String("err", err.Error()))
			}
		}
		h.eng.HandleNotification(ctx, sess.SessionID, note)
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	case "request":
		res := h.eng.HandleRequest(ctx, sess.SessionID, msg.AsRequest())
		b, err := json.Marshal(res)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
			return
		}
		if err := h.writeRPCResponse(w, r, b); err != nil {
			h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	default:
		// The server never issues requests, so a client response has nothing to complete.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored")
	}
}

func (h *StreamingHTTPHandler) initializeSession(ctx context.Context, w http.ResponseWriter, userInfo auth.UserInfo, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.IsNotification() || req.Method != string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusBadRequest, "missing "+mcpSessionIDHeader+" header; expected initialize request")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}

	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			res := jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params", nil)
			w.Header().Set("Content-Type", jsonMediaType.String())
			_ = json.NewEncoder(w).Encode(res)
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}

	initRes := h.eng.Initialize(ctx, &initReq)

	now := h.now()
	meta := &sessions.Metadata{
		SessionID:       uuid.NewString(),
		UserID:          userInfo.UserID(),
		ProtocolVersion: initRes.ProtocolVersion,
		ClientName:      initReq.ClientInfo.Name,
		ClientVersion:   initReq.ClientInfo.Version,
		State:           sessions.StatePending,
		CreatedAt:       now,
		LastAccess:      now,
		TTL:             h.sessionTTL,
	}
	if err := h.store.Create(ctx, meta); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       meta.SessionID,
		UserID:          meta.UserID,
		ProtocolVersion: meta.ProtocolVersion,
	})

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	w.Header().Set(mcpSessionIDHeader, meta.SessionID)
	w.Header().Set(mcpProtocolVersionHeader, meta.ProtocolVersion)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

// loadSession resolves the session named by the request header and slides
// its expiry. Sessions owned by another user are reported as missing.
func (h *StreamingHTTPHandler) loadSession(ctx context.Context, w http.ResponseWriter, sessID string, userInfo auth.UserInfo) (*sessions.Metadata, bool) {
	sess, err := h.store.Load(ctx, sessID)
	if err == nil && sess.UserID != userInfo.UserID() {
		err = sessions.ErrSessionNotFound
	}
	if err == nil {
		err = sessions.Touch(ctx, h.store, sessID, h.now())
	}
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return nil, false
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return nil, false
	}
	return sess, true
}

// writeRPCResponse answers with a single SSE event when the client accepts
// text/event-stream, otherwise with a JSON body.
func (h *StreamingHTTPHandler) writeRPCResponse(w http.ResponseWriter, r *http.Request, payload []byte) error {
	f, canFlush := w.(http.Flusher)
	if !canFlush || !acceptsEventStream(r) {
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		_, err := w.Write(payload)
		return err
	}

	setEventStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	return writeSSEEvent(&lockedWriteFlusher{Writer: w, Flusher: f}, payload)
}

func acceptsEventStream(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return true
	}
	_, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes)
	return err == nil
}

func setEventStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// handleGetMCP opens an idle event stream for the session. The server has no
// server-initiated messages, so the stream only carries keep-alive comments.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing "+mcpSessionIDHeader+" header")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	sess, ok := h.loadSession(ctx, w, sessID, userInfo)
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID,
		UserID:          sess.UserID,
		ProtocolVersion: sess.ProtocolVersion,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wf := &lockedWriteFlusher{Writer: w, Flusher: f}
	h.addStream(sessID, wf, cancel)
	defer h.removeStream(sessID, wf)

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	setEventStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()
	h.log.InfoContext(ctx, "sse.stream.start")

	tick := time.NewTicker(keepAliveInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		case <-tick.C:
			if _, err := io.WriteString(wf, ": keep-alive\n\n"); err != nil {
				h.log.InfoContext(ctx, "sse.stream.write.fail", slog.String("err", err.Error()))
				return
			}
			wf.Flush()
		}
	}
}

// handleDeleteMCP terminates a session, cancelling its in-flight tool calls
// and closing its open event streams.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing "+mcpSessionIDHeader+" header")
		h.log.WarnContext(ctx, "delete.missing_session_id")
		return
	}
	sess, err := h.store.Load(ctx, sessID)
	if err == nil && sess.UserID != userInfo.UserID() {
		err = sessions.ErrSessionNotFound
	}
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, UserID: sess.UserID, ProtocolVersion: sess.ProtocolVersion})

	if err := h.store.Delete(ctx, sessID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete session")
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}
	h.eng.CancelScope(sessID)
	h.closeStreams(sessID)

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (h *StreamingHTTPHandler) addStream(sessID string, wf *lockedWriteFlusher, cancel context.CancelFunc) {
	h.streamsMu.Lock()
	defer h.streamsMu.Unlock()
	m, ok := h.streams[sessID]
	if !ok {
		m = make(map[*lockedWriteFlusher]context.CancelFunc)
		h.streams[sessID] = m
	}
	m[wf] = cancel
}

func (h *StreamingHTTPHandler) removeStream(sessID string, wf *lockedWriteFlusher) {
	h.streamsMu.Lock()
	defer h.streamsMu.Unlock()
	if m, ok := h.streams[sessID]; ok {
		delete(m, wf)
		if len(m) == 0 {
			delete(h.streams, sessID)
		}
	}
}

func (h *StreamingHTTPHandler) closeStreams(sessID string) {
	h.streamsMu.Lock()
	m := h.streams[sessID]
	delete(h.streams, sessID)
	h.streamsMu.Unlock()
	for _, cancel := range m {
		cancel()
	}
}

func (h *StreamingHTTPHandler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.prm); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
	}
}

func (h *StreamingHTTPHandler) handleOptionsProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func (h *StreamingHTTPHandler) resourceMetadataURL(r *http.Request) string {
	if h.prm == nil {
		return ""
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + wellknown.ProtectedResourceMetadataPath
}

// checkAuthentication returns the caller, or nil after writing the failure
// response. Without an authenticator every caller is anonymous.
func (h *StreamingHTTPHandler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) auth.UserInfo {
	if h.auth == nil {
		return auth.Anonymous()
	}
	rm := h.resourceMetadataURL(r)

	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		// RFC 6750 §3.1: no error code when credentials are absent.
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, rm, "", ""))
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || strings.TrimSpace(authHeader[len(bearerPrefix):]) == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, rm, "invalid_request", "malformed bearer authorization header"))
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	switch {
	case err == nil:
		return userInfo
	case errors.Is(err, auth.ErrUnauthorized):
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, rm, "invalid_token", err.Error()))
		w.WriteHeader(http.StatusUnauthorized)
	case errors.Is(err, auth.ErrInsufficientScope):
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, rm, "insufficient_scope", err.Error()))
		w.WriteHeader(http.StatusForbidden)
	default:
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
	return nil
}

// writeSSEEvent writes payload as the data field of one event and flushes.
func writeSSEEvent(wf *lockedWriteFlusher, payload []byte) error {
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
