package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
)

type backupInput struct {
	BackupPath string `json:"backupPath"`
}

func (s *Service) registerLifecycleTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "backup-database",
		Description: "Back up the database to a file on the server.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in backupInput) (*mcp.CallToolResult, any, error) {
		op := security.Operation{Tool: "backup-database"}
		return toolResult(s.run(ctx, op, func(ctx context.Context) (any, int, error) {
			if err := s.querier.Backup(ctx, in.BackupPath); err != nil {
				return nil, 0, err
			}
			return map[string]string{"backupPath": in.BackupPath}, 0, nil
		}))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "restore-database",
		Description: "Restore the database from a backup file on the server.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in backupInput) (*mcp.CallToolResult, any, error) {
		op := security.Operation{Tool: "restore-database"}
		return toolResult(s.run(ctx, op, func(ctx context.Context) (any, int, error) {
			if err := s.querier.Restore(ctx, in.BackupPath); err != nil {
				return nil, 0, err
			}
			return map[string]string{"restoredFrom": in.BackupPath}, 0, nil
		}))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "validate-database",
		Description: "Check database integrity.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		op := security.Operation{Tool: "validate-database"}
		return toolResult(s.run(ctx, op, func(ctx context.Context) (any, int, error) {
			res, err := s.querier.Validate(ctx)
			return res, 0, err
		}))
	})
}
