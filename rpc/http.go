package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"shieldlend/core"
	"shieldlend/core/events"
	"shieldlend/observability"
)

const (
	jsonRPCVersion = "2.0"

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32002
	codeProtocolError  = -32020
)

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ServerConfig tunes the RPC surface.
type ServerConfig struct {
	// BearerToken guards mutating methods when non-empty.
	BearerToken        string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

type handlerFunc func(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError)

// Server exposes the protocol entrypoints over JSON-RPC plus a websocket
// event stream, health probe and Prometheus metrics.
type Server struct {
	protocol *core.Protocol
	bus      *events.Bus
	logger   *slog.Logger
	limiter  *rate.Limiter
	token    string
	handlers map[string]handlerFunc
	// mutating marks methods that require a signed envelope and, when
	// configured, the bearer token.
	mutating map[string]bool
}

// NewServer wires the RPC surface around a protocol instance. The bus is the
// event sink the protocol was constructed with; it feeds /ws/events.
func NewServer(protocol *core.Protocol, bus *events.Bus, logger *slog.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(cfg.RateLimitPerSecond)
	if cfg.RateLimitPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	s := &Server{
		protocol: protocol,
		bus:      bus,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, burst),
		token:    strings.TrimSpace(cfg.BearerToken),
		handlers: make(map[string]handlerFunc),
		mutating: make(map[string]bool),
	}
	s.registerHandlers()
	return s
}

func (s *Server) register(method string, mutating bool, fn handlerFunc) {
	s.handlers[method] = fn
	s.mutating[method] = mutating
}

// Router assembles the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.serveRPC), "rpc"))
	r.Get("/ws/events", s.serveEvents)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve runs the HTTP server until the context is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeResponse(w http.ResponseWriter, status int, resp RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	writeResponse(w, status, RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	writeResponse(w, http.StatusOK, RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) checkAuth(r *http.Request) *RPCError {
	if s.token == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	if strings.TrimSpace(credential) != s.token {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func statusFor(code int) int {
	switch code {
	case codeParseError, codeInvalidRequest, codeInvalidParams, codeProtocolError:
		return http.StatusBadRequest
	case codeMethodNotFound:
		return http.StatusNotFound
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	correlationID := uuid.NewString()
	logger := s.logger.With("correlationId", correlationID)
	w.Header().Set("X-Correlation-Id", correlationID)

	if !s.limiter.Allow() {
		observability.RPCMetrics().Observe("unknown", codeRateLimited, time.Since(started))
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "malformed request body", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	if s.mutating[req.Method] {
		if rpcErr := s.checkAuth(r); rpcErr != nil {
			observability.RPCMetrics().Observe(req.Method, rpcErr.Code, time.Since(started))
			writeError(w, statusFor(rpcErr.Code), req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
	}

	result, rpcErr := handler(r.Context(), req.Params)
	if rpcErr != nil {
		observability.RPCMetrics().Observe(req.Method, rpcErr.Code, time.Since(started))
		logger.Warn("rpc call failed", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
		writeError(w, statusFor(rpcErr.Code), req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	observability.RPCMetrics().Observe(req.Method, 0, time.Since(started))
	logger.Info("rpc call", "method", req.Method, "durationMs", time.Since(started).Milliseconds())
	writeResult(w, req.ID, result)
}
