package global

import (
	"context"
)

type raceKey struct{}
type racerKey struct{}

// WithRaceID attaches the race identifier to the context so logs and spans
// carry it without passing it around.
func WithRaceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, raceKey{}, id)
}

// WithRacerID attaches the identity of the contender issuing the call.
func WithRacerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, racerKey{}, id)
}

func RaceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(raceKey{}).(string)
	return v, ok
}

func RacerID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(racerKey{}).(string)
	return v, ok
}
