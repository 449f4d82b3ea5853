// Package lockstep drives the server under test and the reference model
// through the same operations and compares their snapshots after each one.
package lockstep

import (
	"context"
	"errors"
	"fmt"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/persistence/trace"
	"roadtest.ai/internal/scenario"
	"roadtest.ai/internal/sim/reference"
)

// Recorder receives one entry per harness operation. *trace.Writer is one.
type Recorder interface {
	Record(trace.Entry) error
}

type Harness struct {
	sut SUT
	ref Reference
	tol float64
	rec Recorder

	seq     int
	players []model.Identity
	retired map[string]bool
}

type Option func(*Harness)

func WithTolerance(tol float64) Option { return func(h *Harness) { h.tol = tol } }

func WithRecorder(r Recorder) Option { return func(h *Harness) { h.rec = r } }

func New(sut SUT, ref *reference.Game, opts ...Option) *Harness {
	h := &Harness{
		sut:     sut,
		ref:     Reference{Game: ref},
		tol:     model.DefaultTolerance,
		retired: map[string]bool{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Players returns every identity joined through the harness, retired or not.
func (h *Harness) Players() []model.Identity {
	return append([]model.Identity(nil), h.players...)
}

// Retired reports whether the player left the game in both simulators.
func (h *Harness) Retired(id model.Identity) bool { return h.retired[id.Token] }

// Header writes the trace header line.
func (h *Harness) Header(check string, seed uint64, config string) error {
	if h.rec == nil {
		return nil
	}
	return h.rec.Record(trace.Entry{Op: trace.OpHeader, Check: check, Seed: seed, Config: config})
}

// Join joins on the SUT, reads back the spawn point it chose, and admits
// the same identity at the same point into the reference.
func (h *Harness) Join(ctx context.Context, name, mapID string) (model.Identity, error) {
	id, err := h.sut.Join(ctx, name, mapID)
	if err != nil {
		return id, fmt.Errorf("join %q on %s: %w", name, mapID, err)
	}
	st, err := h.sut.State(ctx, id.Token)
	if err != nil {
		return id, fmt.Errorf("state after join: %w", err)
	}
	p, ok := st.Player(id.PlayerID)
	if !ok {
		return id, &Divergence{Seq: h.seq + 1, Op: trace.OpJoin, Elapsed: h.ref.Game.Elapsed(), Mismatches: []Mismatch{{
			PlayerID: model.PlayerKey(id.PlayerID), Field: FieldPresence, SUT: false, Ref: true,
		}}}
	}
	if err := h.ref.Game.Join(id, p.Pos); err != nil {
		return id, fmt.Errorf("reference join: %w", err)
	}
	h.players = append(h.players, id)

	spawn := p.Pos
	return id, h.check(ctx, trace.Entry{
		Op: trace.OpJoin, Token: id.Token, PlayerID: id.PlayerID, Name: name, MapID: mapID, Spawn: &spawn,
	})
}

// Move applies dir to the player on both sides. Moving a retired player
// must be rejected by both.
func (h *Harness) Move(ctx context.Context, id model.Identity, dir model.Direction) error {
	sutErr := h.sut.Move(ctx, id.Token, dir)
	refErr := h.ref.Move(ctx, id.Token, dir)
	if err := h.agree(id, sutErr, refErr); err != nil {
		return fmt.Errorf("move %q: %w", string(dir), err)
	}
	d := string(dir)
	return h.check(ctx, trace.Entry{Op: trace.OpMove, PlayerID: id.PlayerID, Token: id.Token, Dir: &d})
}

func (h *Harness) Tick(ctx context.Context, deltaMs int64) error {
	if err := h.sut.Tick(ctx, deltaMs); err != nil {
		return fmt.Errorf("tick %d: %w", deltaMs, err)
	}
	if err := h.ref.Tick(ctx, deltaMs); err != nil {
		return fmt.Errorf("reference tick %d: %w", deltaMs, err)
	}
	return h.check(ctx, trace.Entry{Op: trace.OpTick, DeltaMs: deltaMs})
}

// Check compares the current snapshots without applying an operation.
func (h *Harness) Check(ctx context.Context) error {
	return h.check(ctx, trace.Entry{Op: trace.OpCheck})
}

func (h *Harness) agree(id model.Identity, sutErr, refErr error) error {
	switch {
	case sutErr == nil && refErr == nil:
		return nil
	case IsUnknownToken(sutErr) && IsUnknownToken(refErr):
		return nil
	case refErr != nil && !IsUnknownToken(refErr):
		return fmt.Errorf("reference: %w", refErr)
	case sutErr != nil && !IsUnknownToken(sutErr):
		return sutErr
	}
	return &Divergence{Seq: h.seq + 1, Op: "accept", Elapsed: h.ref.Game.Elapsed(), Mismatches: []Mismatch{{
		PlayerID: model.PlayerKey(id.PlayerID), Field: FieldRetired, SUT: sutErr != nil, Ref: refErr != nil,
	}}}
}

func (h *Harness) check(ctx context.Context, e trace.Entry) error {
	h.seq++
	e.Seq = h.seq

	sutSnaps := map[string]model.SessionState{}
	refSnaps := map[string]model.SessionState{}
	var mismatches []Mismatch
	for _, id := range h.players {
		if h.retired[id.Token] {
			continue
		}
		if _, done := refSnaps[id.MapID]; done {
			continue
		}
		refSt, refErr := h.ref.State(ctx, id.Token)
		sutSt, sutErr := h.sut.State(ctx, id.Token)
		refGone, sutGone := IsUnknownToken(refErr), IsUnknownToken(sutErr)
		switch {
		case refErr != nil && !refGone:
			return fmt.Errorf("reference state: %w", refErr)
		case sutErr != nil && !sutGone:
			return fmt.Errorf("state: %w", sutErr)
		case refGone && sutGone:
			h.retired[id.Token] = true
			continue
		case refGone != sutGone:
			mismatches = append(mismatches, Mismatch{
				PlayerID: model.PlayerKey(id.PlayerID), Field: FieldRetired, SUT: sutGone, Ref: refGone,
			})
			continue
		}
		sutSnaps[id.MapID] = sutSt
		refSnaps[id.MapID] = refSt
		mismatches = append(mismatches, Compare(sutSt, refSt, h.tol)...)
	}

	var div *Divergence
	if len(mismatches) > 0 {
		div = &Divergence{Seq: e.Seq, Op: e.Op, Elapsed: h.ref.Game.Elapsed(), Mismatches: mismatches}
		e.Divergence = div.Error()
	}
	if h.rec != nil {
		e.SUT = trace.Snapshots(sutSnaps)
		e.Ref = trace.Snapshots(refSnaps)
		if err := h.rec.Record(e); err != nil {
			return fmt.Errorf("trace: %w", err)
		}
	}
	if div != nil {
		return div
	}
	return nil
}

// AsDivergence unwraps a *Divergence from err.
func AsDivergence(err error) (*Divergence, bool) {
	var d *Divergence
	ok := errors.As(err, &d)
	return d, ok
}

// JoinN joins n players named prefix0..prefix(n-1) on mapID.
func (h *Harness) JoinN(ctx context.Context, n int, prefix, mapID string) ([]model.Identity, error) {
	ids := make([]model.Identity, 0, n)
	for i := 0; i < n; i++ {
		id, err := h.Join(ctx, fmt.Sprintf("%s%d", prefix, i), mapID)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Driver binds the harness to a fixed list of players so scenario steps can
// address them by index.
type Driver struct {
	H   *Harness
	IDs []model.Identity
}

var _ scenario.Driver = Driver{}

func (d Driver) Move(ctx context.Context, player int, dir model.Direction) error {
	if player < 0 || player >= len(d.IDs) {
		return fmt.Errorf("player index %d out of range (%d players)", player, len(d.IDs))
	}
	return d.H.Move(ctx, d.IDs[player], dir)
}

func (d Driver) Tick(ctx context.Context, deltaMs int64) error { return d.H.Tick(ctx, deltaMs) }
