// Package requestcontext carries per-request metadata through contexts
package requestcontext

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	ActorKey     = ContextKey("X-Actor")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// SetActor records who is acting on this request. Merge and ignore
// decisions are attributed to this value.
func SetActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func GetActor(ctx context.Context) string {
	value, ok := ctx.Value(ActorKey).(string)
	if !ok {
		return ""
	}
	return value
}
