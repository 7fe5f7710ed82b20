package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payguard/native/escrow"
	"payguard/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 30
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// Business error codes, one per kind in the escrow taxonomy so callers can
// branch without string matching.
const (
	codeNotFound          = -32040
	codeAlreadyExists     = -32041
	codeContractNotActive = -32042
	codeInvalidMilestones = -32043
	codeInvalidIndex      = -32044
	codeNotPending        = -32045
	codeNotSubmitted      = -32046
	codeNotDisputed       = -32047
	codeAlreadyFunded     = -32048
	codeNotFunded         = -32049
	codeAmountMismatch    = -32050
	codeOverflow          = -32051
	codeInvariant         = -32052
	codeTransferFailed    = -32053
	codeInvalidVerdict    = -32054
)

type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server hosts the escrow instruction surface as JSON-RPC 2.0 over HTTP.
// Mutating methods require the configured bearer token; read methods are
// open.
type Server struct {
	engine    *escrow.Engine
	authToken string
	log       *slog.Logger

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
}

// NewServer wires the RPC surface to an escrow engine. An empty authToken
// disables every mutating method.
func NewServer(engine *escrow.Engine, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:       engine,
		authToken:    strings.TrimSpace(authToken),
		log:          logger,
		rateLimiters: make(map[string]*rateLimiter),
	}
}

// Router returns the HTTP handler hosting the RPC endpoint, health check and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handleRPC)
	return r
}

var mutatingMethods = map[string]bool{
	"escrow_create":           true,
	"escrow_fund":             true,
	"escrow_submitMilestone":  true,
	"escrow_approveMilestone": true,
	"escrow_raiseDispute":     true,
	"escrow_resolveDispute":   true,
	"escrow_cancel":           true,
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil || len(body) > maxRequestBytes {
		writeResponse(w, &RPCResponse{JSONRPC: jsonRPCVersion, Error: &RPCError{Code: codeInvalidRequest, Message: "request too large or unreadable"}})
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, &RPCResponse{JSONRPC: jsonRPCVersion, Error: &RPCError{Code: codeParseError, Message: "invalid JSON"}})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeResponse(w, &RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version"}})
		return
	}

	log := s.log.With("requestId", requestID, "method", req.Method)

	if mutatingMethods[req.Method] {
		if !s.authorized(r) {
			log.Warn("unauthorized rpc call")
			writeResponse(w, &RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: &RPCError{Code: codeUnauthorized, Message: "unauthorized"}})
			return
		}
		if !s.allow(sourceHost(r)) {
			log.Warn("rate limited rpc call")
			writeResponse(w, &RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"}})
			return
		}
	}

	start := time.Now()
	result, rpcErr := s.dispatch(&req)
	outcome := "ok"
	if rpcErr != nil {
		outcome = "error"
		log.Info("rpc call failed", "code", rpcErr.Code, "message", rpcErr.Message)
	}
	observability.Escrow().Observe(req.Method, outcome, time.Since(start))

	writeResponse(w, &RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result, Error: rpcErr})
}

func (s *Server) dispatch(req *RPCRequest) (interface{}, *RPCError) {
	switch req.Method {
	case "escrow_create":
		return s.handleCreate(req)
	case "escrow_fund":
		return s.handleFund(req)
	case "escrow_submitMilestone":
		return s.handleSubmitMilestone(req)
	case "escrow_approveMilestone":
		return s.handleApproveMilestone(req)
	case "escrow_raiseDispute":
		return s.handleRaiseDispute(req)
	case "escrow_resolveDispute":
		return s.handleResolveDispute(req)
	case "escrow_cancel":
		return s.handleCancel(req)
	case "escrow_get":
		return s.handleGet(req)
	case "escrow_deriveAddress":
		return s.handleDeriveAddress(req)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: "method not found"}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func (s *Server) allow(source string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.rateLimiters[source]
	if !ok || now.Sub(limiter.windowStart) >= rateLimitWindow {
		s.rateLimiters[source] = &rateLimiter{count: 1, windowStart: now}
		return true
	}
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
}

func sourceHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeResponse(w http.ResponseWriter, resp *RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// rpcErrorFor maps every kind in the escrow error taxonomy to its dedicated
// code; anything else is a server error.
func rpcErrorFor(err error) *RPCError {
	code := codeServerError
	switch {
	case errors.Is(err, escrow.ErrUnauthorized):
		code = codeUnauthorized
	case errors.Is(err, escrow.ErrNotFound):
		code = codeNotFound
	case errors.Is(err, escrow.ErrAlreadyExists):
		code = codeAlreadyExists
	case errors.Is(err, escrow.ErrContractNotActive):
		code = codeContractNotActive
	case errors.Is(err, escrow.ErrInvalidMilestoneSet):
		code = codeInvalidMilestones
	case errors.Is(err, escrow.ErrInvalidMilestoneIndex):
		code = codeInvalidIndex
	case errors.Is(err, escrow.ErrMilestoneNotPending):
		code = codeNotPending
	case errors.Is(err, escrow.ErrMilestoneNotSubmitted):
		code = codeNotSubmitted
	case errors.Is(err, escrow.ErrMilestoneNotDisputed):
		code = codeNotDisputed
	case errors.Is(err, escrow.ErrAlreadyFunded):
		code = codeAlreadyFunded
	case errors.Is(err, escrow.ErrNotFunded):
		code = codeNotFunded
	case errors.Is(err, escrow.ErrAmountMismatch):
		code = codeAmountMismatch
	case errors.Is(err, escrow.ErrArithmeticOverflow):
		code = codeOverflow
	case errors.Is(err, escrow.ErrInvariantViolation):
		code = codeInvariant
	case errors.Is(err, escrow.ErrTransferFailed):
		code = codeTransferFailed
	case errors.Is(err, escrow.ErrInvalidVerdict):
		code = codeInvalidVerdict
	}
	return &RPCError{Code: code, Message: err.Error()}
}
