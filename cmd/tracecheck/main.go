package main

import (
	"flag"
	"fmt"
	"os"

	"roadtest.ai/internal/lockstep"
	"roadtest.ai/internal/model"
	"roadtest.ai/internal/persistence/trace"
	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/sim/reference"
)

func main() {
	var (
		tracePath  = flag.String("trace", "", "path to a .jsonl.zst lockstep trace")
		configPath = flag.String("config", "", "game config (default: the path recorded in the trace header)")
		retirement = flag.Duration("retirement", 0, "override dogRetirementTime (0 = from config)")
		tol        = flag.Float64("tol", model.DefaultTolerance, "absolute tolerance for positions and speeds")
	)
	flag.Parse()

	if *tracePath == "" {
		fmt.Fprintln(os.Stderr, "missing -trace")
		os.Exit(2)
	}

	open := func(h trace.Entry) (*reference.Game, error) {
		path := *configPath
		if path == "" {
			path = h.Config
		}
		if path == "" {
			return nil, fmt.Errorf("trace header names no config; pass -config")
		}
		cfg, err := gameconfig.Load(path)
		if err != nil {
			return nil, err
		}
		var opts []reference.Option
		if *retirement > 0 {
			opts = append(opts, reference.WithRetirement(*retirement))
		}
		return reference.New(cfg, opts...), nil
	}

	res, err := lockstep.Replay(*tracePath, open, *tol)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("trace check=%s seed=%d entries=%d\n", res.Check, res.Seed, res.Entries)
	if res.Recorded == nil {
		fmt.Println("replay ok: no divergence recorded")
		return
	}
	fmt.Println("recorded:", res.RecordedText)
	for _, m := range res.Recorded.Mismatches {
		fmt.Println("  ", m)
	}
	fmt.Printf("rerun with: conformance -checks %s -seed %d\n", res.Check, res.Seed)
	os.Exit(1)
}
