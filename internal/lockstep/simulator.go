package lockstep

import (
	"context"
	"errors"
	"net/http"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/transport/httpapi"
)

// Simulator is the capability both sides of a lockstep run offer.
type Simulator interface {
	Move(ctx context.Context, token string, dir model.Direction) error
	Tick(ctx context.Context, deltaMs int64) error
	State(ctx context.Context, token string) (model.SessionState, error)
}

// SUT is a Simulator that also assigns identities. *httpapi.Client is one.
type SUT interface {
	Simulator
	Join(ctx context.Context, name, mapID string) (model.Identity, error)
}

var _ SUT = (*httpapi.Client)(nil)

// Reference adapts the in-process reference model to Simulator.
type Reference struct {
	Game *reference.Game
}

var _ Simulator = Reference{}

func (r Reference) Move(_ context.Context, token string, dir model.Direction) error {
	return r.Game.Move(token, dir)
}

func (r Reference) Tick(_ context.Context, deltaMs int64) error { return r.Game.Tick(deltaMs) }

func (r Reference) State(_ context.Context, token string) (model.SessionState, error) {
	return r.Game.State(token)
}

// IsUnknownToken reports whether err is either side's "token is not (or no
// longer) valid" answer.
func IsUnknownToken(err error) bool {
	if errors.Is(err, reference.ErrUnknownToken) {
		return true
	}
	var e *httpapi.Error
	return errors.As(err, &e) && e.Kind == httpapi.KindTransport && e.Status == http.StatusUnauthorized
}
