package shared

import "context"

type actorContextKey struct{}

// ContextWithActorID records the authenticated subject id for audit trails.
func ContextWithActorID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, id)
}

// ActorIDFromContext extracts the authenticated subject id, zero when absent.
func ActorIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}
