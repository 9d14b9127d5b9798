// Package orgcontext carries the authenticated organization and actor through
// request contexts. Services read the org from here rather than trusting
// caller-provided parameters.
package orgcontext

import "context"

type orgIDKey struct{}

type actorKey struct{}

type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

func OrgIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(orgIDKey{}).(int64)
	return id, ok
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
