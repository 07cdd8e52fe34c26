// Package transport implements the SSE-framed RPC call/response contract
// described in spec.md §6: a request carries (tool_name, arguments) and a
// response is either a JSON value or an error payload with a human-readable
// message. Framing and timeout details are this package's own choice; only
// the call shape is part of the specification. This is deliberately built on
// the standard library net/http: the transport is explicitly an external,
// interface-only collaborator per spec.md §1, so no third-party RPC/SSE
// framework from the example pack is pulled in for it (see DESIGN.md).
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request is the call shape: a tool name and its JSON arguments.
type Request struct {
	ToolName  string `json:"tool_name"`
	Arguments any    `json:"arguments"`
}

// Response is either a JSON Result or a human-readable Error.
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler answers one capability-server tool call.
type Handler func(ctx context.Context, arguments any) (any, error)

// Server hosts a set of named tool handlers behind a single SSE-framed HTTP
// endpoint, one per Agent (or one shared server for process-global tools).
type Server struct {
	addr     string
	handlers map[string]Handler
	srv      *http.Server
}

// NewServer constructs a Server bound to addr (e.g. "127.0.0.1:8001") with no
// registered handlers yet.
func NewServer(addr string) *Server {
	return &Server{addr: addr, handlers: make(map[string]Handler)}
}

// AddTool registers a named handler. Re-registering a name replaces it.
func (s *Server) AddTool(name string, h Handler) {
	s.handlers[name] = h
}

// Addr returns the bind address this server listens on.
func (s *Server) Addr() string { return s.addr }

// Start begins serving in the background. Stop must be called to release
// the listener.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handle)
	s.srv = &http.Server{Addr: s.addr, Handler: mux}
	ln, err := newListener(s.addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %q: %w", s.addr, err)
	}
	go func() { _ = s.srv.Serve(ln) }()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSSE(w, Response{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	h, ok := s.handlers[req.ToolName]
	if !ok {
		writeSSE(w, Response{Error: fmt.Sprintf("unknown tool %q", req.ToolName)})
		return
	}
	result, err := h(r.Context(), req.Arguments)
	if err != nil {
		writeSSE(w, Response{Error: err.Error()})
		return
	}
	writeSSE(w, Response{Result: result})
}

func writeSSE(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	body, err := json.Marshal(resp)
	if err != nil {
		body, _ = json.Marshal(Response{Error: err.Error()})
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Client is an outbound connection to one Agent's (or the shared admin)
// capability server. Connect is idempotent: calling it more than once is a
// no-op once a connection has succeeded.
type Client struct {
	url        string
	httpClient *http.Client
	connected  bool
}

// NewClient constructs a Client targeting a server's SSE endpoint.
func NewClient(url string) *Client {
	return &Client{url: url, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Connect verifies the remote endpoint is reachable. It is idempotent: once
// connected, subsequent calls return nil immediately without re-dialing.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader([]byte(`{"tool_name":"__ping__","arguments":null}`)))
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: connect to %q: %w", c.url, err)
	}
	defer resp.Body.Close()
	c.connected = true
	return nil
}

// Call issues one RPC and decodes the SSE-framed response.
func (c *Client) Call(ctx context.Context, toolName string, arguments any) (any, error) {
	payload, err := json.Marshal(Request{ToolName: toolName, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: call %q: %w", toolName, err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		return nil, fmt.Errorf("transport: empty SSE response for %q", toolName)
	}
	var out Response
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("transport: decode response for %q: %w", toolName, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%s", out.Error)
	}
	return out.Result, nil
}
