// Package scenario generates operation sequences for lockstep runs. All
// randomness comes from the Generator's own seeded source, so a seed fully
// determines a scenario.
package scenario

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"roadtest.ai/internal/model"
)

// Range is an inclusive range of tick deltas in milliseconds.
type Range struct {
	Min, Max int64
}

var (
	SmallMove = Range{Min: 0, Max: 250}
	BigMove   = Range{Min: 1000, Max: 100000}
	Sustained = Range{Min: 10, Max: 10000}
	AnyTick   = Range{Min: 0, Max: 10000}
)

// MinSequenceRounds is the shortest sequence worth running for drift.
const MinSequenceRounds = 10

type StepKind string

const (
	StepMove StepKind = "move"
	StepTick StepKind = "tick"
)

// Step is one operation. Player indexes the scenario's joined players.
type Step struct {
	Kind    StepKind
	Player  int
	Dir     model.Direction
	DeltaMs int64
}

func (s Step) String() string {
	if s.Kind == StepTick {
		return fmt.Sprintf("tick %dms", s.DeltaMs)
	}
	return fmt.Sprintf("player[%d] move %q", s.Player, string(s.Dir))
}

type Scenario struct {
	Name    string
	Seed    uint64
	Players int
	Steps   []Step
}

// Driver is what a scenario is played against; lockstep.Harness fits once
// its players are resolved by index.
type Driver interface {
	Move(ctx context.Context, player int, dir model.Direction) error
	Tick(ctx context.Context, deltaMs int64) error
}

// Run plays every step in order and stops at the first error, which is
// annotated with the step index.
func (s Scenario) Run(ctx context.Context, d Driver) error {
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch st.Kind {
		case StepMove:
			err = d.Move(ctx, st.Player, st.Dir)
		case StepTick:
			err = d.Tick(ctx, st.DeltaMs)
		default:
			err = fmt.Errorf("unknown step kind %q", st.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s seed=%d step %d (%s): %w", s.Name, s.Seed, i, st, err)
		}
	}
	return nil
}

type Generator struct {
	seed uint64
	rnd  *rand.Rand
}

// New returns a generator fixed to seed.
func New(seed uint64) *Generator {
	return &Generator{seed: seed, rnd: rand.New(rand.NewPCG(seed, seed))}
}

// NewRandom picks a fresh seed; report Seed() so a failure can be rerun.
func NewRandom() *Generator {
	return New(uint64(time.Now().UnixNano()))
}

func (g *Generator) Seed() uint64 { return g.seed }

func (g *Generator) Rand() *rand.Rand { return g.rnd }

func (g *Generator) Direction() model.Direction { return model.RandomDirection(g.rnd) }

func (g *Generator) Delta(r Range) int64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + g.rnd.Int64N(r.Max-r.Min+1)
}

// Name returns a random printable ASCII name of 1..maxLen characters.
func (g *Generator) Name(maxLen int) string {
	if maxLen < 1 {
		maxLen = 1
	}
	n := 1 + g.rnd.IntN(maxLen)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte(' ' + g.rnd.IntN('~'-' '+1)))
	}
	return b.String()
}

func (g *Generator) scenario(name string, players int) Scenario {
	return Scenario{Name: name, Seed: g.seed, Players: players}
}

// Turns moves every player through every direction without advancing time.
func (g *Generator) Turns(players int) Scenario {
	s := g.scenario("turns", players)
	for _, d := range model.MovingDirections {
		for p := 0; p < players; p++ {
			s.Steps = append(s.Steps, Step{Kind: StepMove, Player: p, Dir: d})
		}
	}
	return s
}

// Move gives every player a random direction, then advances time once.
func (g *Generator) Move(players int, r Range) Scenario {
	s := g.scenario(fmt.Sprintf("move[%d..%d]", r.Min, r.Max), players)
	for p := 0; p < players; p++ {
		s.Steps = append(s.Steps, Step{Kind: StepMove, Player: p, Dir: g.Direction()})
	}
	s.Steps = append(s.Steps, Step{Kind: StepTick, DeltaMs: g.Delta(r)})
	return s
}

// Sequence repeats Move for rounds rounds (at least MinSequenceRounds).
func (g *Generator) Sequence(players, rounds int, r Range) Scenario {
	if rounds < MinSequenceRounds {
		rounds = MinSequenceRounds
	}
	s := g.scenario(fmt.Sprintf("sequence[%d]", rounds), players)
	for i := 0; i < rounds; i++ {
		s.Steps = append(s.Steps, g.Move(players, r).Steps...)
	}
	return s
}

// Interleaved mixes moves of random players with ticks, two moves to one
// tick on average, and always ends with a tick.
func (g *Generator) Interleaved(players, steps int, r Range) Scenario {
	s := g.scenario(fmt.Sprintf("interleaved[%d]", steps), players)
	for i := 0; i < steps-1; i++ {
		if g.rnd.IntN(3) == 0 {
			s.Steps = append(s.Steps, Step{Kind: StepTick, DeltaMs: g.Delta(r)})
			continue
		}
		s.Steps = append(s.Steps, Step{Kind: StepMove, Player: g.rnd.IntN(players), Dir: g.Direction()})
	}
	s.Steps = append(s.Steps, Step{Kind: StepTick, DeltaMs: g.Delta(r)})
	return s
}

// Fixed builds the single-player "move right, wait" scenario.
func Fixed(dir model.Direction, deltaMs int64) Scenario {
	return Scenario{
		Name:    fmt.Sprintf("fixed[%s,%d]", dir, deltaMs),
		Players: 1,
		Steps: []Step{
			{Kind: StepMove, Player: 0, Dir: dir},
			{Kind: StepTick, DeltaMs: deltaMs},
		},
	}
}

// Fixed is the package-level Fixed tagged with the generator's seed, for
// deltas the generator drew.
func (g *Generator) Fixed(dir model.Direction, deltaMs int64) Scenario {
	s := Fixed(dir, deltaMs)
	s.Seed = g.seed
	return s
}
