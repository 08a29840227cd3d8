package shared

import "context"

type orgContextKey struct{}

type actorContextKey struct{}

// ContextWithOrg stores the tenant organization in context.
func ContextWithOrg(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, orgContextKey{}, orgID)
}

// OrgFromContext extracts the tenant organization from context.
func OrgFromContext(ctx context.Context) (int64, bool) {
	orgID, ok := ctx.Value(orgContextKey{}).(int64)
	return orgID, ok && orgID > 0
}

// ContextWithActor stores the acting user id in context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext returns the acting user id, or 0 when unknown.
func ActorFromContext(ctx context.Context) int64 {
	actorID, _ := ctx.Value(actorContextKey{}).(int64)
	return actorID
}
