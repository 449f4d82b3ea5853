// Package suite holds the conformance checks and runs them against a
// target game server.
package suite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"time"

	"roadtest.ai/internal/lockstep"
	"roadtest.ai/internal/scenario"
	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/transport/httpapi"
)

// Check is one named conformance check. Every check starts from a fresh
// server.
type Check struct {
	Name string
	// Records marks checks that need an empty leaderboard.
	Records bool
	// Reference marks checks that need the game config to build the
	// reference model.
	Reference bool
	Run       func(ctx context.Context, e *Env) error
}

// Env is what a running check sees.
type Env struct {
	Client *httpapi.Client
	// Game is nil when no game config is known.
	Game       *gameconfig.Config
	ConfigPath string
	MapID      string
	Retirement time.Duration
	Tolerance  float64
	Gen        *scenario.Generator
	Logger     *log.Logger

	check string
	rec   lockstep.Recorder
}

// Harness returns a lockstep harness over the env's client and a fresh
// reference model, with the trace header already written.
func (e *Env) Harness() (*lockstep.Harness, error) {
	if e.Game == nil {
		return nil, Skip("no game config")
	}
	ref := reference.New(*e.Game, reference.WithRetirement(e.Retirement))
	opts := []lockstep.Option{lockstep.WithTolerance(e.Tolerance)}
	if e.rec != nil {
		opts = append(opts, lockstep.WithRecorder(e.rec))
	}
	h := lockstep.New(e.Client, ref, opts...)
	if err := h.Header(e.check, e.Gen.Seed(), e.ConfigPath); err != nil {
		return nil, err
	}
	return h, nil
}

func (e *Env) Logf(format string, args ...any) {
	e.Logger.Printf("%s: "+format, append([]any{e.check}, args...)...)
}

// SkipError marks a check that could not run against this target.
type SkipError struct{ Reason string }

func (s *SkipError) Error() string { return "skipped: " + s.Reason }

func Skip(reason string) error { return &SkipError{Reason: reason} }

func IsSkip(err error) bool {
	var s *SkipError
	return errors.As(err, &s)
}

// All returns every check in run order.
func All() []Check {
	var out []Check
	out = append(out, mapChecks()...)
	out = append(out, joinChecks()...)
	out = append(out, playerChecks()...)
	out = append(out, tickChecks()...)
	out = append(out, lockstepChecks()...)
	out = append(out, recordChecks()...)
	return out
}

// Select keeps the checks whose name matches any of patterns (path.Match
// syntax, so "lockstep/*" works). No patterns selects everything.
func Select(checks []Check, patterns []string) ([]Check, error) {
	if len(patterns) == 0 {
		return checks, nil
	}
	var out []Check
	used := make([]bool, len(patterns))
	for _, c := range checks {
		for i, p := range patterns {
			ok, err := path.Match(p, c.Name)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", p, err)
			}
			if ok {
				used[i] = true
				out = append(out, c)
				break
			}
		}
	}
	for i, ok := range used {
		if !ok {
			return nil, fmt.Errorf("pattern %q matches no check", patterns[i])
		}
	}
	return out, nil
}

// Names lists check names, sorted.
func Names(checks []Check) []string {
	out := make([]string, 0, len(checks))
	for _, c := range checks {
		out = append(out, c.Name)
	}
	sort.Strings(out)
	return out
}
