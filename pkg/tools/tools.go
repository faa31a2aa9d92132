// Package tools exposes the database operations as MCP tools. Every
// handler runs its operation through the security gate before touching
// the data source and records the outcome afterward.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/audit"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/datasource"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/gateway"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
)

// Service owns the MCP server and its registered tools.
type Service struct {
	server  *mcp.Server
	gate    *security.Gate
	querier datasource.Querier
}

// NewService creates the MCP server and registers every tool.
func NewService(name, version string, gate *security.Gate, querier datasource.Querier) *Service {
	s := &Service{
		server:  mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		gate:    gate,
		querier: querier,
	}
	s.server.AddReceivingMiddleware(LoggingMiddleware())

	s.registerQueryTools()
	s.registerSchemaTools()
	s.registerLifecycleTools()
	return s
}

// Server returns the underlying MCP server for transport wiring.
func (s *Service) Server() *mcp.Server {
	return s.server
}

// run gates one operation, executes it, and records the outcome. The
// returned envelope is what the caller sees either way.
func (s *Service) run(ctx context.Context, op security.Operation, exec func(context.Context) (any, int, error)) gateway.Envelope {
	cc := CallContextFrom(ctx)
	op.SessionID = cc.SessionID
	op.Caller = cc.Caller

	if decision := s.gate.CheckOperation(ctx, op); !decision.Allowed {
		return gateway.Fail(decision.Err())
	}

	start := time.Now()
	result, rowCount, err := exec(ctx)
	s.gate.RecordOutcome(ctx, op, result, rowCount, time.Since(start), err)

	if err != nil {
		return gateway.Fail(err)
	}
	return gateway.OK(result)
}

// tableOf extracts the table a statement targets, for row filtering.
func tableOf(sql string) string {
	return audit.Target(sql)
}

// toolResult renders the envelope as the tool's text content. A failed
// envelope is flagged as a tool error, never surfaced as a Go error, so
// the protocol layer keeps the session alive.
func toolResult(env gateway.Envelope) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
			IsError: true,
		}, nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: !env.Success,
	}, nil, nil
}
