package kit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}

func toolSession(t *testing.T, endpoint Endpoint) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "echo",
		InputSchema: map[string]any{"type": "object"},
	}, endpoint, func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		var args struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		if args.Msg == "" {
			return nil, errors.New("msg is required")
		}
		return &MCPDecodeResult{
			Request: args.Msg,
			EnrichCtx: func(ctx context.Context) context.Context {
				return WithRunID(ctx, "run_echo")
			},
		}, nil
	})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callEcho(t *testing.T, s *mcp.ClientSession, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: "echo", Arguments: args})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	return res
}

func TestRegisterMCPTool_Context(t *testing.T) {
	var transport, reqID, runID string
	s := toolSession(t, func(ctx context.Context, req any) (any, error) {
		transport = GetTransport(ctx)
		reqID = GetRequestID(ctx)
		runID = GetRunID(ctx)
		return map[string]string{"echo": req.(string)}, nil
	})

	res := callEcho(t, s, map[string]any{"msg": "hi"})
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if text := res.Content[0].(*mcp.TextContent).Text; text != `{"echo":"hi"}` {
		t.Fatalf("content = %s", text)
	}
	if transport != "mcp" || !strings.HasPrefix(reqID, "mcp_") {
		t.Fatalf("transport/request id = %q/%q", transport, reqID)
	}
	if runID != "run_echo" {
		t.Fatalf("run id = %q, want run_echo", runID)
	}
}

func TestRegisterMCPTool_Errors(t *testing.T) {
	s := toolSession(t, func(ctx context.Context, req any) (any, error) {
		return nil, errors.New("endpoint failed")
	})

	res := callEcho(t, s, map[string]any{})
	if !res.IsError {
		t.Fatal("decode failure: expected tool error")
	}
	if text := res.Content[0].(*mcp.TextContent).Text; !strings.Contains(text, "invalid arguments") {
		t.Fatalf("decode error text = %q", text)
	}

	res = callEcho(t, s, map[string]any{"msg": "x"})
	if !res.IsError {
		t.Fatal("endpoint failure: expected tool error")
	}
	if text := res.Content[0].(*mcp.TextContent).Text; !strings.Contains(text, "endpoint failed") {
		t.Fatalf("endpoint error text = %q", text)
	}
}
