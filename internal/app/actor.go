package app

import (
	"context"
	"strings"

	"github.com/hylla/prognos/internal/domain"
)

// SystemActorID attributes changes made by scheduled jobs.
const SystemActorID = "prognos-system"

// Actor carries normalized caller identity for change attribution.
// Authorization has already happened by the time an actor reaches the service.
type Actor struct {
	ID   string
	Type domain.ActorType
}

// WithActor attaches normalized actor identity to context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, normalizeActor(actor))
}

// ActorFromContext returns normalized actor identity when present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok {
		return Actor{}, false
	}
	actor = normalizeActor(actor)
	if actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}

// actorContextKey stores context keys for actor identity.
type actorContextKey struct{}

// resolveActor picks the explicit actor id when given and falls back to the context actor.
func resolveActor(ctx context.Context, explicit string) (Actor, error) {
	fromCtx, hasCtx := ActorFromContext(ctx)
	explicit = strings.TrimSpace(explicit)
	switch {
	case explicit != "" && hasCtx && fromCtx.ID == explicit:
		return fromCtx, nil
	case explicit != "":
		return Actor{ID: explicit, Type: domain.ActorTypeUser}, nil
	case hasCtx:
		return fromCtx, nil
	default:
		return Actor{}, domain.ErrInvalidActorID
	}
}

// normalizeActor trims and canonicalizes actor metadata.
func normalizeActor(actor Actor) Actor {
	actor.ID = strings.TrimSpace(actor.ID)
	actor.Type = domain.NormalizeActorType(actor.Type)
	return actor
}
