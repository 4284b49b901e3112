package orders

import (
	"context"

	"github.com/google/uuid"
)

type actorKey struct{}

// WithActor returns a context carrying the id of the user performing the
// operation.
func WithActor(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actorKey{}, id)
}

func ActorFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func principalOr(ctx context.Context, def uuid.UUID) uuid.UUID {
	if id, ok := ActorFrom(ctx); ok {
		return id
	}
	return def
}
