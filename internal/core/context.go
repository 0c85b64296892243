package core

import "context"

type contextKey string

const ctxKeyActor contextKey = "import_actor"

// ContextWithActor records who is acting on import jobs. CreateJob stores it
// as the job's owning actor.
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actorID)
}

// ActorFromContext returns the actor set by ContextWithActor, or "".
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActor).(string); ok {
		return v
	}
	return ""
}
