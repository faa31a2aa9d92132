package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// LoggingMiddleware logs every tools/call with its duration and outcome.
// Audit entries are emitted inside the handlers, where the query and
// target are known; this is operational logging only.
func LoggingMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "tools/call" {
				return next(ctx, method, req)
			}

			start := time.Now()
			result, err := next(ctx, method, req)
			duration := time.Since(start)

			cc := CallContextFrom(ctx)
			attrs := []any{
				"session_id", cc.SessionID,
				"caller_id", cc.Caller.ID,
				"duration_ms", duration.Milliseconds(),
			}
			if err != nil {
				slog.Error("tool call failed", append(attrs, "error", err)...)
				return result, err
			}
			if callResult, ok := result.(*mcp.CallToolResult); ok && callResult != nil && callResult.IsError {
				slog.Warn("tool call rejected", attrs...)
				return result, nil
			}
			slog.Info("tool call completed", attrs...)
			return result, err
		}
	}
}
