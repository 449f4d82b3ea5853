package suite

import (
	"context"
	"fmt"
	"reflect"

	"roadtest.ai/internal/lockstep"
	"roadtest.ai/internal/model"
	"roadtest.ai/internal/scenario"
)

var twoPlayerBigMove = scenario.Range{Min: 250, Max: 10000}

func lockstepChecks() []Check {
	return []Check{
		{Name: "lockstep/turn-one-player", Reference: true, Run: checkTurnOnePlayer},
		{Name: "lockstep/small-move", Reference: true, Run: func(ctx context.Context, e *Env) error {
			return perDirection(ctx, e, func(d model.Direction) []scenario.Scenario {
				out := []scenario.Scenario{e.Gen.Fixed(d, 140)}
				for i := 0; i < 3; i++ {
					out = append(out, e.Gen.Fixed(d, e.Gen.Delta(scenario.SmallMove)))
				}
				return out
			})
		}},
		{Name: "lockstep/big-move", Reference: true, Run: func(ctx context.Context, e *Env) error {
			return perDirection(ctx, e, func(d model.Direction) []scenario.Scenario {
				var out []scenario.Scenario
				for i := 0; i < 3; i++ {
					out = append(out, e.Gen.Fixed(d, e.Gen.Delta(scenario.BigMove)))
				}
				return out
			})
		}},
		{Name: "lockstep/sequence", Reference: true, Run: func(ctx context.Context, e *Env) error {
			return play(ctx, e, "player", e.Gen.Sequence(1, scenario.MinSequenceRounds, scenario.Sustained))
		}},
		{Name: "lockstep/two-players-turns", Reference: true, Run: checkTwoPlayersTurns},
		{Name: "lockstep/two-players-small-move", Reference: true, Run: func(ctx context.Context, e *Env) error {
			return play(ctx, e, "Player ", e.Gen.Move(2, scenario.SmallMove))
		}},
		{Name: "lockstep/two-players-big-move", Reference: true, Run: func(ctx context.Context, e *Env) error {
			return play(ctx, e, "Player ", e.Gen.Move(2, twoPlayerBigMove))
		}},
		{Name: "lockstep/two-players-sequence", Reference: true, Run: func(ctx context.Context, e *Env) error {
			return play(ctx, e, "Player ", e.Gen.Sequence(2, scenario.MinSequenceRounds, scenario.AnyTick))
		}},
		{Name: "lockstep/interleaved", Reference: true, Run: func(ctx context.Context, e *Env) error {
			return play(ctx, e, "Player ", e.Gen.Interleaved(3, 40, scenario.AnyTick))
		}},
		{Name: "state/idempotent", Run: checkIdempotentState},
	}
}

// play joins s.Players players named prefix0.. and runs s in lockstep.
func play(ctx context.Context, e *Env, prefix string, s scenario.Scenario) error {
	h, err := e.Harness()
	if err != nil {
		return err
	}
	ids, err := h.JoinN(ctx, s.Players, prefix, e.MapID)
	if err != nil {
		return err
	}
	e.Logf("%s: %d steps", s.Name, len(s.Steps))
	return s.Run(ctx, lockstep.Driver{H: h, IDs: ids})
}

// perDirection joins a fresh player for every moving direction and plays
// the scenarios build returns for it. Earlier players stay in the session
// and keep being compared.
func perDirection(ctx context.Context, e *Env, build func(model.Direction) []scenario.Scenario) error {
	h, err := e.Harness()
	if err != nil {
		return err
	}
	for _, d := range model.MovingDirections {
		id, err := h.Join(ctx, "player", e.MapID)
		if err != nil {
			return err
		}
		drv := lockstep.Driver{H: h, IDs: []model.Identity{id}}
		for _, s := range build(d) {
			if err := s.Run(ctx, drv); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkTurnOnePlayer(ctx context.Context, e *Env) error {
	h, err := e.Harness()
	if err != nil {
		return err
	}
	for _, d := range model.MovingDirections {
		id, err := h.Join(ctx, "player", e.MapID)
		if err != nil {
			return err
		}
		if err := h.Move(ctx, id, d); err != nil {
			return err
		}
	}
	return nil
}

func checkTwoPlayersTurns(ctx context.Context, e *Env) error {
	h, err := e.Harness()
	if err != nil {
		return err
	}
	ids, err := h.JoinN(ctx, 2, "Player ", e.MapID)
	if err != nil {
		return err
	}
	for _, d1 := range model.MovingDirections {
		for _, d2 := range model.MovingDirections {
			if err := h.Move(ctx, ids[0], d1); err != nil {
				return err
			}
			if err := h.Move(ctx, ids[1], d2); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkIdempotentState reads the state twice with nothing in between.
func checkIdempotentState(ctx context.Context, e *Env) error {
	id, err := e.Client.Join(ctx, "player", e.MapID)
	if err != nil {
		return err
	}
	for round := 0; round < 3; round++ {
		if err := e.Client.Move(ctx, id.Token, e.Gen.Direction()); err != nil {
			return err
		}
		if err := e.Client.Tick(ctx, e.Gen.Delta(scenario.SmallMove)); err != nil {
			return err
		}
		a, err := e.Client.State(ctx, id.Token)
		if err != nil {
			return err
		}
		b, err := e.Client.State(ctx, id.Token)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(a, b) {
			return fmt.Errorf("round %d: state changed between reads: %v vs %v", round, a, b)
		}
	}
	return nil
}
