package lockstep

import (
	"errors"
	"fmt"
	"sort"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/persistence/trace"
	"roadtest.ai/internal/sim/reference"
)

// ReplayResult summarizes a trace replay.
type ReplayResult struct {
	Entries int
	Check   string
	Seed    uint64
	Config  string

	// Recorded is the first divergence between server and reference the
	// trace itself holds, if any.
	Recorded *Divergence
	// RecordedText is the divergence as the harness reported it.
	RecordedText string
}

// Replay feeds the operations of the trace at path into a reference built
// by open from the trace header, and checks it reproduces every recorded
// reference snapshot. A reference that no longer does is an error; a
// recorded server divergence is only reported in the result.
func Replay(path string, open func(header trace.Entry) (*reference.Game, error), tol float64) (ReplayResult, error) {
	var (
		res    ReplayResult
		ref    *reference.Game
		tokens = map[string][]string{} // map id -> joined tokens
	)
	err := trace.Read(path, func(e trace.Entry) error {
		res.Entries++
		if e.Op == trace.OpHeader {
			if ref != nil {
				return fmt.Errorf("seq %d: second header", e.Seq)
			}
			g, err := open(e)
			if err != nil {
				return err
			}
			ref, res.Check, res.Seed, res.Config = g, e.Check, e.Seed, e.Config
			return nil
		}
		if ref == nil {
			return errors.New("trace has no header")
		}
		if err := apply(ref, e, tokens); err != nil {
			return fmt.Errorf("seq %d %s: %w", e.Seq, e.Op, err)
		}
		if err := verify(ref, e, tokens, tol); err != nil {
			return err
		}
		if e.Divergence != "" && res.Recorded == nil {
			res.Recorded = recorded(e, tol)
			res.Recorded.Elapsed = ref.Elapsed()
			res.RecordedText = e.Divergence
		}
		return nil
	})
	return res, err
}

func apply(ref *reference.Game, e trace.Entry, tokens map[string][]string) error {
	switch e.Op {
	case trace.OpJoin:
		if e.Spawn == nil {
			return errors.New("join without spawn")
		}
		id := model.Identity{Token: e.Token, PlayerID: e.PlayerID, Name: e.Name, MapID: e.MapID}
		if err := ref.Join(id, *e.Spawn); err != nil {
			return err
		}
		tokens[e.MapID] = append(tokens[e.MapID], e.Token)
	case trace.OpMove:
		if e.Dir == nil {
			return errors.New("move without direction")
		}
		err := ref.Move(e.Token, model.Direction(*e.Dir))
		if err != nil && !errors.Is(err, reference.ErrUnknownToken) {
			return err
		}
	case trace.OpTick:
		return ref.Tick(e.DeltaMs)
	case trace.OpCheck:
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	return nil
}

// verify compares the replayed reference with the reference snapshots the
// entry recorded.
func verify(ref *reference.Game, e trace.Entry, tokens map[string][]string, tol float64) error {
	for _, mapID := range sortedKeys(e.Ref) {
		want := e.Ref[mapID].Model()
		got, ok := liveState(ref, tokens[mapID])
		if !ok {
			return fmt.Errorf("seq %d %s: map %s has no live player after replay, recorded %d", e.Seq, e.Op, mapID, len(want.Players))
		}
		if ms := Compare(got, want, tol); len(ms) > 0 {
			return fmt.Errorf("replay no longer matches the recorded reference: %w",
				&Divergence{Seq: e.Seq, Op: e.Op, Elapsed: ref.Elapsed(), Mismatches: ms})
		}
	}
	return nil
}

func liveState(ref *reference.Game, tokens []string) (model.SessionState, bool) {
	for _, tok := range tokens {
		if st, err := ref.State(tok); err == nil {
			return st, true
		}
	}
	return model.SessionState{}, false
}

// recorded rebuilds the mismatches of a divergent entry from its two
// snapshot sets.
func recorded(e trace.Entry, tol float64) *Divergence {
	d := &Divergence{Seq: e.Seq, Op: e.Op}
	maps := map[string]bool{}
	for k := range e.SUT {
		maps[k] = true
	}
	for k := range e.Ref {
		maps[k] = true
	}
	for _, mapID := range sortedKeys(maps) {
		d.Mismatches = append(d.Mismatches, Compare(e.SUT[mapID].Model(), e.Ref[mapID].Model(), tol)...)
	}
	return d
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
