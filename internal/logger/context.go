package logger

import "context"

type contextKey string

const TraceIDKey contextKey = "trace_id"
const WorkspaceKey contextKey = "workspace"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

func WithWorkspace(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, WorkspaceKey, name)
}

func GetWorkspace(ctx context.Context) string {
	if name, ok := ctx.Value(WorkspaceKey).(string); ok {
		return name
	}
	return ""
}
