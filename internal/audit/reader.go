package audit

import (
	"context"
	"errors"

	"fieldhub.org/internal/auth"
)

// ActorDirectory is the slice of the auth store the read side needs to
// resolve actor ids into display labels.
type ActorDirectory interface {
	GetActor(ctx context.Context, id string) (auth.Actor, error)
}

// ListWithActors returns the item history with actor emails joined in.
func ListWithActors(ctx context.Context, store Store, actors ActorDirectory, family, itemID string) ([]WithActor, error) {
	events, err := store.List(ctx, family, itemID)
	if err != nil {
		return nil, err
	}
	return JoinActors(ctx, events, actors)
}

// JoinActors decorates an event sequence with actor emails. The join is
// display sugar: a missing actor leaves the email empty and does not
// fail the read.
func JoinActors(ctx context.Context, events []Event, actors ActorDirectory) ([]WithActor, error) {
	emails := make(map[string]string, 4)
	out := make([]WithActor, 0, len(events))
	for _, e := range events {
		email, seen := emails[e.ActorID]
		if !seen {
			actor, err := actors.GetActor(ctx, e.ActorID)
			switch {
			case err == nil:
				email = actor.Email
			case errors.Is(err, auth.ErrNotFound):
				email = ""
			default:
				return nil, err
			}
			emails[e.ActorID] = email
		}
		out = append(out, WithActor{Event: e, ActorEmail: email})
	}
	return out, nil
}
