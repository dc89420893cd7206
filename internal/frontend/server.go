// server.go - Protocol Front End: line-delimited JSON-RPC 2.0 over stdio.
// State machine: Uninitialized -> Initialized -> Ready -> ShuttingDown.
// Input is read by one goroutine; tools/call runs concurrently and every
// response goes through the serialized Writer.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/brennhill/gasoline-browser-bridge/internal/bridge"
	"github.com/brennhill/gasoline-browser-bridge/internal/logging"
	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
	"github.com/brennhill/gasoline-browser-bridge/internal/redaction"
	"github.com/brennhill/gasoline-browser-bridge/internal/registry"
	"github.com/brennhill/gasoline-browser-bridge/internal/util"
)

// ServerName is reported in serverInfo.
const ServerName = "gasoline-bridge"

const serverInstructions = "Browser automation through the Gasoline extension. " +
	"Every tool accepts an optional 'timeout' in milliseconds (capped at 60000). " +
	"browser_click and browser_type have page side effects and are never retried automatically."

// ToolCaller executes one tool call. Failures are *mcp.ToolError values.
// Implemented in-process by gateway.Server and over loopback by gateway.Client.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// State is the front-end lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Server.
type Options struct {
	Version        string
	MaxMessageSize int
	Logger         *slog.Logger
}

// Server is the stdio JSON-RPC front end.
type Server struct {
	reg    *registry.Registry
	caller ToolCaller
	out    *Writer
	opts   Options
	log    *slog.Logger

	state    atomic.Int32
	inflight sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a front end that writes to out and executes calls via caller.
func New(reg *registry.Registry, caller ToolCaller, out io.Writer, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		reg:    reg,
		caller: caller,
		out:    NewWriter(out, opts.Logger),
		opts:   opts,
		log:    opts.Logger,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// transition moves from one state to another; false if the current state differs.
func (s *Server) transition(from, to State) bool {
	if s.state.CompareAndSwap(int32(from), int32(to)) {
		s.log.Debug("front end state change", "from", from, "to", to)
		return true
	}
	return false
}

func (s *Server) shutdown() {
	s.state.Store(int32(StateShuttingDown))
	s.doneOnce.Do(func() {
		s.out.Close()
		close(s.done)
	})
}

type readResult struct {
	msg []byte
	err error
}

// Run processes messages from in until shutdown, EOF, or ctx cancellation.
// In-flight calls are abandoned, not drained.
func (s *Server) Run(ctx context.Context, in io.Reader) error {
	callCtx, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()
	defer s.shutdown()

	reader := bridge.NewReader(in, s.opts.MaxMessageSize)
	lines := make(chan readResult)
	util.SafeGo(func() {
		for {
			msg, err := reader.Next()
			select {
			case lines <- readResult{msg: msg, err: err}:
			case <-s.done:
				return
			}
			if err != nil && !errors.Is(err, bridge.ErrMessageTooLarge) {
				return
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			s.log.Info("front end stopping", "reason", ctx.Err())
			return nil
		case <-s.done:
			return nil
		case r := <-lines:
			switch {
			case r.err == nil:
				s.HandleMessage(callCtx, r.msg)
			case errors.Is(r.err, bridge.ErrMessageTooLarge):
				s.out.WriteResponse(mcp.NewError(nil, mcp.CodeParseError, "Parse error: message exceeds size limit"))
			case errors.Is(r.err, io.EOF):
				s.log.Info("stdin closed, shutting down")
				return nil
			default:
				return fmt.Errorf("read stdin: %w", r.err)
			}
		}
	}
}

// Wait blocks until all spawned tool calls have returned.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// ============================================
// Dispatch
// ============================================

type methodHandler func(s *Server, ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse

// methodHandlers maps MCP method names to their handlers. A nil response
// means the handler answers asynchronously or the message needs no answer.
var methodHandlers = map[string]methodHandler{
	"initialize":                (*Server).handleInitialize,
	"initialized":               (*Server).handleInitialized,
	"notifications/initialized": (*Server).handleInitialized,
	"ping":                      (*Server).handlePing,
	"tools/list":                (*Server).handleToolsList,
	"tools/call":                (*Server).handleToolsCall,
	"shutdown":                  (*Server).handleShutdown,
	"exit":                      (*Server).handleShutdown,
}

// allowedStates lists the states each method is valid in. Methods absent
// from this table are valid in every state.
var allowedStates = map[string][]State{
	"initialize": {StateUninitialized},
	"tools/list": {StateReady},
	"tools/call": {StateReady},
}

// HandleMessage processes one raw inbound message.
func (s *Server) HandleMessage(ctx context.Context, raw []byte) {
	if s.State() == StateShuttingDown {
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		s.out.WriteResponse(mcp.NewError(nil, mcp.CodeInvalidRequest, "Invalid Request: batch requests are not supported"))
		return
	}

	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.log.Warn("unparseable stdin message", "error", err, "preview", redaction.Preview(string(raw), 200))
		s.out.WriteResponse(mcp.NewError(nil, mcp.CodeParseError, "Parse error: "+err.Error()))
		return
	}
	if resp := s.dispatch(ctx, req); resp != nil {
		s.out.WriteResponse(*resp)
	}
}

func (s *Server) dispatch(ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	if req.HasInvalidID() {
		resp := mcp.NewError(nil, mcp.CodeInvalidRequest, "Invalid Request: id must be string or number when present")
		return &resp
	}
	isNotification := !req.HasID()
	if req.JSONRPC != "2.0" {
		if isNotification {
			return nil
		}
		resp := mcp.NewError(req.ID, mcp.CodeInvalidRequest, `Invalid Request: jsonrpc must be "2.0"`)
		return &resp
	}

	handler, ok := methodHandlers[req.Method]
	if !ok {
		// Unknown notifications (notifications/cancelled included) are ignored.
		if isNotification {
			s.log.Debug("ignoring notification", "method", req.Method)
			return nil
		}
		resp := mcp.NewError(req.ID, mcp.CodeMethodNotFound, "Method not found: "+req.Method)
		return &resp
	}

	if states, gated := allowedStates[req.Method]; gated && !stateIn(s.State(), states) {
		if isNotification {
			return nil
		}
		resp := s.stateError(req)
		return &resp
	}

	resp := handler(s, ctx, req)
	if isNotification {
		return nil
	}
	return resp
}

func stateIn(state State, states []State) bool {
	for _, st := range states {
		if st == state {
			return true
		}
	}
	return false
}

func (s *Server) stateError(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	state := s.State()
	if req.Method == "initialize" {
		return mcp.NewError(req.ID, mcp.CodeInvalidRequest, "Invalid Request: server already initialized")
	}
	return mcp.NewError(req.ID, mcp.CodeServerNotInitialized,
		fmt.Sprintf("Server not initialized: %s is not valid while %s", req.Method, state))
}

// ============================================
// Handlers
// ============================================

func (s *Server) handleInitialize(_ context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	if !s.transition(StateUninitialized, StateInitialized) {
		resp := s.stateError(req)
		return &resp
	}
	result := mcp.MCPInitializeResult{
		ProtocolVersion: negotiateProtocolVersion(req.Params),
		ServerInfo:      mcp.MCPServerInfo{Name: ServerName, Version: s.opts.Version},
		Capabilities:    mcp.MCPCapabilities{Tools: mcp.MCPToolsCapability{ListChanged: false}},
		Instructions:    serverInstructions,
	}
	// Error impossible: MCPInitializeResult is a simple struct with no circular refs or unsupported types
	resultJSON, _ := json.Marshal(result)
	resp := mcp.NewResult(req.ID, resultJSON)
	return &resp
}

func (s *Server) handleInitialized(_ context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	if !s.transition(StateInitialized, StateReady) {
		s.log.Debug("initialized notification ignored", "state", s.State())
	}
	resp := mcp.NewResult(req.ID, json.RawMessage(`{}`))
	return &resp
}

func (s *Server) handlePing(_ context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	resp := mcp.NewResult(req.ID, json.RawMessage(`{}`))
	return &resp
}

func (s *Server) handleToolsList(_ context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	result := mcp.MCPToolsListResult{Tools: s.reg.MCPTools()}
	resp := mcp.NewResult(req.ID, mcp.SafeMarshal(result, `{"tools":[]}`))
	return &resp
}

func (s *Server) handleShutdown(_ context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	if req.HasID() {
		// Answer before closing the writer.
		s.out.WriteResponse(mcp.NewResult(req.ID, json.RawMessage(`{}`)))
	}
	s.log.Info("shutdown requested", "method", req.Method)
	s.shutdown()
	return nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall validates the envelope synchronously, then runs the call
// in its own goroutine so slow tools never block the reader loop.
func (s *Server) handleToolsCall(ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp := mcp.NewError(req.ID, mcp.CodeInvalidParams, "Invalid params: "+err.Error())
		return &resp
	}
	if params.Name == "" {
		resp := mcp.NewError(req.ID, mcp.CodeInvalidParams, "Invalid params: missing tool name")
		return &resp
	}
	if _, err := s.reg.Lookup(params.Name); err != nil {
		resp := mcp.NewError(req.ID, mcp.CodeInvalidParams, "Unknown tool: "+params.Name)
		return &resp
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		result := s.runToolCall(ctx, params)
		if req.HasID() {
			s.out.WriteResponse(mcp.NewResult(req.ID, result))
		}
	}()
	return nil
}

// runToolCall executes one call. A panic anywhere below becomes an isError
// result instead of killing the process.
func (s *Server) runToolCall(ctx context.Context, params toolsCallParams) (result json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in tools/call", "tool", params.Name, "panic", r, "stack", string(debug.Stack()))
			result = toolErrorResult(mcp.NewToolError(mcp.ErrToolExecution, "%s: internal error while executing tool", params.Name))
		}
	}()

	data, err := s.caller.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		te := mcp.AsToolError(err)
		s.log.Info("tool call failed", "tool", params.Name, "code", te.Code, "correlation_id", te.CorrelationID)
		return toolErrorResult(te)
	}
	return toolSuccessResult(params.Name, data)
}
