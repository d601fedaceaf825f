package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/missingmoney/kit"
	"github.com/hazyhaar/missingmoney/missingmoney"
)

// RegisterMCP registers the missingmoney_search and missingmoney_slots tools.
func RegisterMCP(srv *mcp.Server, s Searcher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	validate := newValidator()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name: "missingmoney_search",
		Description: "Search the unclaimed-property database for a person. " +
			"Returns the same outcome as the HTTP API: success, results with entity and amount, totalAmount, or a retryable error.",
		InputSchema: kit.InputSchema(map[string]any{
			"firstName":     map[string]any{"type": "string", "description": "First name; common nicknames are expanded"},
			"lastName":      map[string]any{"type": "string"},
			"city":          map[string]any{"type": "string"},
			"state":         map[string]any{"type": "string", "description": "State name or two-letter code"},
			"use2Captcha":   map[string]any{"type": "boolean", "description": "Solve verification challenges through the solver API"},
			"captchaApiKey": map[string]any{"type": "string", "description": "Solver API key; the server key is used when empty"},
		}, []string{"firstName", "lastName", "city", "state"}),
	}, searchEndpoint(s, logger), func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r missingmoney.Request
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if err := validate.Struct(&r); err != nil {
			return nil, errors.New(validationMessage(err))
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	})

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "missingmoney_slots",
		Description: "Report browser slot usage and service health.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ any) (any, error) {
		return s.Health(ctx), nil
	}, func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	})
}
