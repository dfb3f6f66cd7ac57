// Package requestctx provides request-scoped values (e.g. workspace_id) set by middleware.
package requestctx

import "context"

type contextKey struct{}

var workspaceIDKey = &contextKey{}

// SetWorkspaceID stores workspace_id in the context.
func SetWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, workspaceID)
}

// WorkspaceID returns the workspace_id from context, or "" if not set.
func WorkspaceID(ctx context.Context) string {
	v, _ := ctx.Value(workspaceIDKey).(string)
	return v
}
