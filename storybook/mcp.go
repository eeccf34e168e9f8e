package storybook

import (
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/storylink/kit"
)

// RegisterMCP registers the storybook tools on an MCP server.
func (p *Plugin) RegisterMCP(srv *mcp.Server) {
	p.registerProcessTool(srv)
	p.registerSupportsTool(srv)
	p.registerStoriesTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func queryProperties() map[string]any {
	return map[string]any{
		"path": map[string]any{"type": "string", "description": "Source file path of the component"},
		"storybook": inputSchema(map[string]any{
			"kind":    map[string]any{"type": "string", "description": "Story group (kind)"},
			"stories": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, []string{"kind"}),
	}
}

func (p *Plugin) decodeQuery(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var q ComponentQuery
	if err := json.Unmarshal(req.Params.Arguments, &q); err != nil {
		return nil, err
	}
	if q.Path == "" && q.Storybook == nil {
		return nil, errors.New("path or storybook selector is required")
	}
	return &kit.MCPDecodeResult{Request: &q, EnrichCtx: p.withRun}, nil
}

// --- process ---

func (p *Plugin) registerProcessTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storybook_process",
		Description: "Return the Storybook deep links for a design component.",
		InputSchema: inputSchema(queryProperties(), nil),
	}
	kit.RegisterMCPTool(srv, tool, p.processEndpoint(), p.decodeQuery)
}

// --- supports ---

func (p *Plugin) registerSupportsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storybook_supports",
		Description: "Report whether Storybook links can be produced for a design component.",
		InputSchema: inputSchema(queryProperties(), nil),
	}
	kit.RegisterMCPTool(srv, tool, p.supportsEndpoint(), p.decodeQuery)
}

// --- stories ---

func (p *Plugin) registerStoriesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storybook_stories",
		Description: "List the stories discovered from the Storybook instance.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{EnrichCtx: p.withRun}, nil
	}
	kit.RegisterMCPTool(srv, tool, p.storiesEndpoint(), decode)
}
