package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/gateway"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
)

type tableInput struct {
	TableName string `json:"tableName"`
}

type batchTablesInput struct {
	TableNames []string `json:"tableNames"`
}

func (s *Service) registerSchemaTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list-tables",
		Description: "List the user tables in the database.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		op := security.Operation{Tool: "list-tables"}
		return toolResult(s.run(ctx, op, func(ctx context.Context) (any, int, error) {
			tables, err := s.querier.ListTables(ctx)
			return tables, len(tables), err
		}))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "describe-table",
		Description: "Describe the columns of a table: name, type, nullability, primary key.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in tableInput) (*mcp.CallToolResult, any, error) {
		return toolResult(s.describeTable(ctx, in.TableName))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "describe-batch-tables",
		Description: "Describe several tables at once; each table is reported independently.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in batchTablesInput) (*mcp.CallToolResult, any, error) {
		results := make(map[string]gateway.Envelope, len(in.TableNames))
		for _, name := range in.TableNames {
			results[name] = s.describeTable(ctx, name)
		}
		return toolResult(gateway.OK(results))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get-field-descriptions",
		Description: "Return the stored description of each column of a table.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in tableInput) (*mcp.CallToolResult, any, error) {
		op := security.Operation{Tool: "get-field-descriptions", Table: in.TableName}
		return toolResult(s.run(ctx, op, func(ctx context.Context) (any, int, error) {
			descs, err := s.querier.FieldDescriptions(ctx, in.TableName)
			return descs, len(descs), err
		}))
	})
}

func (s *Service) describeTable(ctx context.Context, table string) gateway.Envelope {
	op := security.Operation{Tool: "describe-table", Table: table}
	return s.run(ctx, op, func(ctx context.Context) (any, int, error) {
		cols, err := s.querier.DescribeTable(ctx, table)
		return cols, len(cols), err
	})
}
