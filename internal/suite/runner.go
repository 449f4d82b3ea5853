package suite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"roadtest.ai/internal/persistence/indexdb"
	"roadtest.ai/internal/persistence/trace"
	"roadtest.ai/internal/scenario"
	"roadtest.ai/internal/sim/gameconfig"
)

// Index records runs and check outcomes. *indexdb.SQLiteIndex is one.
type Index interface {
	RecordRun(indexdb.Run)
	RecordCheck(indexdb.CheckResult)
}

type Runner struct {
	Target Target
	// Game is the server's game config; checks that need the reference
	// model are skipped without it.
	Game       *gameconfig.Config
	ConfigPath string
	MapID      string
	Retirement time.Duration
	Tolerance  float64
	// Seed drives every random choice. Zero picks a fresh one.
	Seed uint64

	TraceDir string
	// KeepTraces keeps the traces of passing checks too.
	KeepTraces bool
	Index      Index
	Logger     *log.Logger
}

type Result struct {
	Check     string
	Seed      uint64
	Status    string
	Err       error
	TracePath string
	Duration  time.Duration
}

type Report struct {
	RunID   string
	Seed    uint64
	Results []Result
}

// Failed counts results that neither passed nor were skipped.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == indexdb.StatusFail || res.Status == indexdb.StatusError {
			n++
		}
	}
	return n
}

// Run executes checks in order, each against a freshly started target.
// It stops early only when ctx ends.
func (r *Runner) Run(ctx context.Context, checks []Check) (Report, error) {
	seed := r.Seed
	if seed == 0 {
		seed = scenario.NewRandom().Seed()
	}
	rep := Report{RunID: uuid.NewString(), Seed: seed}
	if r.Index != nil {
		r.Index.RecordRun(indexdb.Run{ID: rep.RunID, Target: r.Target.String(), Seed: seed, StartedAt: time.Now()})
	}
	r.Logger.Printf("run %s: %d checks against %s seed=%d", rep.RunID, len(checks), r.Target, seed)

	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := r.runOne(ctx, rep.RunID, seed, c)
		rep.Results = append(rep.Results, res)
		switch res.Status {
		case indexdb.StatusPass:
			r.Logger.Printf("PASS %s (%s)", c.Name, res.Duration.Round(time.Millisecond))
		case indexdb.StatusSkip:
			r.Logger.Printf("SKIP %s: %v", c.Name, res.Err)
		default:
			r.Logger.Printf("%s %s seed=%d: %v", strings.ToUpper(res.Status), c.Name, seed, res.Err)
			if res.TracePath != "" {
				r.Logger.Printf("  trace: %s", res.TracePath)
			}
		}
	}
	r.Logger.Printf("run %s: %d/%d failed", rep.RunID, rep.Failed(), len(rep.Results))
	return rep, nil
}

func (r *Runner) runOne(ctx context.Context, runID string, seed uint64, c Check) (res Result) {
	start := time.Now()
	res = Result{Check: c.Name, Seed: seed}
	defer func() {
		res.Duration = time.Since(start)
		if r.Index == nil {
			return
		}
		detail := ""
		if res.Err != nil {
			detail = res.Err.Error()
		}
		r.Index.RecordCheck(indexdb.CheckResult{
			RunID:     runID,
			Check:     c.Name,
			Seed:      seed,
			Status:    res.Status,
			Detail:    detail,
			TracePath: res.TracePath,
			StartedAt: start,
			Duration:  res.Duration,
		})
	}()

	if c.Reference && r.Game == nil {
		res.Status, res.Err = indexdb.StatusSkip, Skip("no game config")
		return res
	}

	env := &Env{
		Game:       r.Game,
		ConfigPath: r.ConfigPath,
		MapID:      r.MapID,
		Retirement: r.Retirement,
		Tolerance:  r.Tolerance,
		Gen:        scenario.New(seed),
		Logger:     r.Logger,
		check:      c.Name,
	}
	var tw *trace.Writer
	if c.Reference && r.TraceDir != "" {
		path := filepath.Join(r.TraceDir, runID, strings.ReplaceAll(c.Name, "/", "_")+".jsonl.zst")
		w, err := trace.Create(path)
		if err != nil {
			res.Status, res.Err = indexdb.StatusError, fmt.Errorf("trace: %w", err)
			return res
		}
		tw, env.rec, res.TracePath = w, w, path
	}

	client, err := r.Target.Start(ctx, c.Records)
	if err != nil {
		res.Status, res.Err = indexdb.StatusError, fmt.Errorf("start target: %w", err)
		r.closeTrace(tw, &res)
		return res
	}
	env.Client = client

	err = c.Run(ctx, env)
	stopErr := r.Target.Stop()
	switch {
	case err == nil:
		res.Status = indexdb.StatusPass
	case IsSkip(err):
		res.Status, res.Err = indexdb.StatusSkip, err
	default:
		res.Status, res.Err = indexdb.StatusFail, err
	}
	if stopErr != nil && res.Status == indexdb.StatusPass {
		res.Status, res.Err = indexdb.StatusError, fmt.Errorf("stop target: %w", stopErr)
	}
	r.closeTrace(tw, &res)
	return res
}

// closeTrace flushes the trace. Skipped checks drop theirs, and so do
// passing ones unless KeepTraces is set.
func (r *Runner) closeTrace(tw *trace.Writer, res *Result) {
	if tw == nil {
		return
	}
	err := tw.Close()
	if res.Status == indexdb.StatusSkip || (res.Status == indexdb.StatusPass && !r.KeepTraces) {
		_ = os.Remove(res.TracePath)
		res.TracePath = ""
		return
	}
	if err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("trace: %w", err))
	}
}
