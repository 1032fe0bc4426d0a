package shared

import "context"

// Role describes the custody tier an actor operates at.
type Role string

const (
	// RoleAdmin is the warehouse tier; source of all stock.
	RoleAdmin Role = "admin"
	// RoleManager holds allocations and may re-issue downstream.
	RoleManager Role = "manager"
	// RoleEmployee is the final custody tier.
	RoleEmployee Role = "employee"
)

// Actor is an already-authenticated identity threaded through engine calls.
// The engine never owns the identity store; the transport layer resolves
// the actor before invoking any operation.
type Actor struct {
	ID         int64
	Role       Role
	Department string
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
