// Package api serves a node over JSON-RPC 2.0 on /rpc and streams committed
// events over a websocket on /ws.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"token-ledger/internal/domain"
	"token-ledger/internal/node"
	"token-ledger/internal/observability"
)

// DefaultMaxBodyBytes limits one JSON-RPC request body.
const DefaultMaxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Node    *node.Node
	Metrics *observability.Metrics // optional
	Logger  *log.Logger            // defaults to discard

	// MaxSkew bounds issuedAt drift on writes. Defaults to DefaultMaxSkew.
	MaxSkew time.Duration
	// Now overrides the clock used for freshness checks.
	Now func() time.Time
	// MaxBodyBytes limits request bodies. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// WSBuffer is the per-subscription event buffer. Defaults to 64.
	WSBuffer int
	// EventsLimit caps getEvents when the request has no limit. Defaults to
	// DefaultEventsLimit.
	EventsLimit int
}

// Server handles JSON-RPC and websocket requests for one node.
type Server struct {
	node     *node.Node
	metrics  *observability.Metrics
	logger   *log.Logger
	verifier *Verifier
	methods  map[string]method
	upgrader websocket.Upgrader

	maxBody     int64
	wsBuffer    int
	eventsLimit int
	nextSub     atomic.Uint64
}

// handler runs one method. caller is zero for read methods.
type handler func(ctx context.Context, caller domain.Address, params json.RawMessage) (any, error)

type method struct {
	write bool
	fn    handler
}

// NewServer creates a server for opts.Node.
func NewServer(opts Options) (*Server, error) {
	if opts.Node == nil {
		return nil, errors.New("api server requires a node")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	wsBuffer := opts.WSBuffer
	if wsBuffer <= 0 {
		wsBuffer = 64
	}
	eventsLimit := opts.EventsLimit
	if eventsLimit <= 0 {
		eventsLimit = DefaultEventsLimit
	}
	s := &Server{
		node:     opts.Node,
		metrics:  opts.Metrics,
		logger:   logger,
		verifier: NewVerifier(opts.MaxSkew, opts.Now),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		maxBody:     maxBody,
		wsBuffer:    wsBuffer,
		eventsLimit: eventsLimit,
	}
	s.methods = s.methodTable()
	return s, nil
}

// Handler returns a mux serving /rpc and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.ServeRPC)
	mux.HandleFunc("/ws", s.ServeWS)
	return mux
}

// ServeRPC handles one JSON-RPC request. Protocol and ledger errors are
// reported in the response body with HTTP 200.
func (s *Server) ServeRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeResponse(w, "", Response{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: err.Error()}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeResponse(w, "", Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: "invalid request"}})
		return
	}

	result, rpcErr := s.dispatch(r.Context(), r.Header, body, &req)
	resp := Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			s.logger.Printf("marshal %s result: %v", req.Method, err)
			resp.Error = &Error{Code: CodeInternal, Message: "internal error"}
		} else {
			resp.Result = raw
		}
	}
	s.writeResponse(w, req.Method, resp)
}

func (s *Server) dispatch(ctx context.Context, h http.Header, body []byte, req *Request) (any, *Error) {
	m, ok := s.methods[req.Method]
	if !ok {
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	caller := domain.ZeroAddress
	if m.write {
		var signed Signed
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &signed); err != nil {
				return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
			}
		}
		var err error
		caller, err = s.verifier.Verify(h, body, signed.IssuedAt)
		if err != nil {
			return nil, toRPCError(err)
		}
	}

	result, err := m.fn(ctx, caller, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == CodeInternal || rpcErr.Code == CodePersistence {
			s.logger.Printf("%s: %v", req.Method, err)
		}
		return nil, rpcErr
	}
	return result, nil
}

func (s *Server) writeResponse(w http.ResponseWriter, method string, resp Response) {
	if s.metrics != nil {
		if _, known := s.methods[method]; !known {
			method = "unknown"
		}
		s.metrics.RecordRPC(method, outcome(resp.Error))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Printf("write response: %v", err)
	}
}

// decodeParams strictly decodes raw into dst. Missing params decode as {}.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func parseAddressParam(field, s string) (domain.Address, error) {
	a, err := domain.ParseAddress(s)
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("%w: %s: %v", errInvalidParams, field, err)
	}
	return a, nil
}

func parseAmountParam(field, s string) (*domain.Amount, error) {
	a, err := domain.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errInvalidParams, field, err)
	}
	return a, nil
}
