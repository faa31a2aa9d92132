package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/gateway"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
)

type executeQueryInput struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

type executeBatchInput struct {
	Queries []executeQueryInput `json:"queries"`
}

func (s *Service) registerQueryTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "execute-query",
		Description: "Execute a SQL query against the database and return its rows.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in executeQueryInput) (*mcp.CallToolResult, any, error) {
		return toolResult(s.executeQuery(ctx, in))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "execute-batch-queries",
		Description: "Execute several SQL queries in sequence; each query is validated and reported independently.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in executeBatchInput) (*mcp.CallToolResult, any, error) {
		results := make([]gateway.Envelope, 0, len(in.Queries))
		for _, q := range in.Queries {
			results = append(results, s.executeQuery(ctx, q))
		}
		return toolResult(gateway.OK(results))
	})
}

// executeQuery gates and runs one statement, post-processing the rows
// through filtering, masking, and the response caps.
func (s *Service) executeQuery(ctx context.Context, in executeQueryInput) gateway.Envelope {
	op := security.Operation{
		Tool:       "execute-query",
		SQL:        in.SQL,
		Parameters: in.Params,
	}
	return s.run(ctx, op, func(ctx context.Context) (any, int, error) {
		result, err := s.querier.ExecuteQuery(ctx, in.SQL, in.Params)
		if err != nil {
			return nil, 0, err
		}

		rows, err := s.gate.PostProcess(tableOf(in.SQL), result.Rows)
		if err != nil {
			return nil, len(result.Rows), err
		}
		result.Rows = rows
		return result, len(rows), nil
	})
}
