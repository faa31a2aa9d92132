// Package server wires the gateway's HTTP surface: the streaming
// endpoint, the operation endpoint, the MCP tool transport, the audit
// query API, and the health checks.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/audit"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/bridge"
	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/gateway"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/health"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/tools"
)

// Deps are the collaborators the server routes traffic to.
type Deps struct {
	Bridge     *bridge.Bridge
	Identifier *security.Identifier
	Checker    *health.Checker

	// Tools, when set, serves the MCP tool surface at /mcp.
	Tools *tools.Service

	// AuditSink, when set, backs the audit query API.
	AuditSink audit.Sink
}

// Server is the gateway's HTTP front end.
type Server struct {
	cfg  gateway.ServerConfig
	deps Deps
	http *http.Server
}

// New creates the server. Bridge, Identifier, and Checker are required;
// Tools and AuditSink are optional surfaces.
func New(cfg gateway.ServerConfig, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.deps.Checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.deps.Checker.ReadinessHandler())
	mux.HandleFunc("GET /{$}", s.handleStream)
	mux.HandleFunc("POST /message", s.handleMessage)
	if s.deps.AuditSink != nil {
		mux.HandleFunc("GET /audit/entries", s.handleAuditQuery)
	}
	if s.deps.Tools != nil {
		mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return s.deps.Tools.Server()
		}, nil)
		mux.Handle("/mcp", s.withCallContext(mcpHandler))
	}
	return mux
}

// ListenAndServe blocks serving traffic until Shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("gateway listening", "address", s.cfg.Address)
	return s.http.ListenAndServe()
}

// Shutdown drains: readiness flips first so load balancers stop sending
// new streams, then in-flight requests get the grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Checker.SetDraining()
	return s.http.Shutdown(ctx)
}

// handleStream serves the streaming endpoint: one upstream connection per
// client, relayed until either side disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Checker.IsReady() {
		writeEnvelope(w, http.StatusServiceUnavailable,
			gateway.Fail(gwerrors.New(gwerrors.KindConnection, "gateway is not accepting streams")))
		return
	}
	if _, err := s.authenticate(r); err != nil {
		writeEnvelope(w, http.StatusUnauthorized, gateway.Fail(err))
		return
	}

	clientID := uuid.NewString()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := s.deps.Bridge.ServeStream(r.Context(), clientID, w); err != nil {
		// Setup failures happen before anything is written; answer with a
		// proper error instead of a dead stream.
		slog.Error("stream setup failed", "session_id", clientID, "error", err)
		w.Header().Set("Content-Type", "application/json")
		writeEnvelope(w, statusForKind(gwerrors.KindOf(err)), gateway.Fail(err))
	}
}

// handleMessage forwards one operation message for an established session.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeEnvelope(w, http.StatusUnauthorized, gateway.Fail(err))
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeEnvelope(w, http.StatusBadRequest,
			gateway.Fail(gwerrors.New(gwerrors.KindProtocol, "sessionId query parameter is required")))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest,
			gateway.Fail(gwerrors.Wrap(err, gwerrors.KindProtocol, "reading request body")))
		return
	}

	res, err := s.deps.Bridge.ProxyMessage(r.Context(), sessionID, r.Header.Get("Content-Type"), body)
	if err != nil {
		writeEnvelope(w, statusForKind(gwerrors.KindOf(err)), gateway.Fail(err))
		return
	}

	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

// handleAuditQuery serves recorded audit entries, newest first.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeEnvelope(w, http.StatusUnauthorized, gateway.Fail(err))
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, gateway.Fail(err))
		return
	}

	entries, err := s.deps.AuditSink.Query(r.Context(), filter)
	if err != nil {
		writeEnvelope(w, statusForKind(gwerrors.KindOf(err)), gateway.Fail(err))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeEnvelope(w, http.StatusOK, gateway.OK(entries))
}

// withCallContext attaches the authenticated caller and session id to the
// request context for the tool handlers.
func (s *Server) withCallContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.authenticate(r)
		if err != nil {
			writeEnvelope(w, http.StatusUnauthorized, gateway.Fail(err))
			return
		}

		sessionID := r.Header.Get("Mcp-Session-Id")
		if sessionID == "" {
			sessionID = r.URL.Query().Get("sessionId")
		}
		ctx := tools.WithCallContext(r.Context(), tools.CallContext{
			SessionID: sessionID,
			Caller:    caller,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves the caller from a bearer token, an API key, or
// the anonymous policy.
func (s *Server) authenticate(r *http.Request) (security.Caller, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return s.deps.Identifier.AuthenticateBearer(auth[len(prefix):])
		}
		return security.Caller{}, gwerrors.New(gwerrors.KindAuthorization, "unsupported authorization scheme")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return s.deps.Identifier.AuthenticateAPIKey(key)
	}
	return s.deps.Identifier.Anonymous()
}

// parseAuditFilter reads the audit query parameters.
func parseAuditFilter(r *http.Request) (audit.QueryFilter, error) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		CallerID:  q.Get("caller"),
		Operation: q.Get("operation"),
	}

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, gwerrors.Wrap(err, gwerrors.KindProtocol, "parsing start time")
		}
		filter.StartTime = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, gwerrors.Wrap(err, gwerrors.KindProtocol, "parsing end time")
		}
		filter.EndTime = &t
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, gwerrors.Wrap(err, gwerrors.KindProtocol, "parsing success flag")
		}
		filter.Success = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, gwerrors.New(gwerrors.KindProtocol, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

func writeEnvelope(w http.ResponseWriter, code int, env gateway.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(env)
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(kind gwerrors.Kind) int {
	switch kind {
	case gwerrors.KindSessionNotFound:
		return http.StatusNotFound
	case gwerrors.KindProtocol, gwerrors.KindSQLValidation:
		return http.StatusBadRequest
	case gwerrors.KindAuthorization:
		return http.StatusForbidden
	case gwerrors.KindResourceLimit, gwerrors.KindRateLimit:
		return http.StatusTooManyRequests
	case gwerrors.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case gwerrors.KindConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
