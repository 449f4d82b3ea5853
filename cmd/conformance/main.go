package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"roadtest.ai/internal/persistence/indexdb"
	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/suite"
	"roadtest.ai/internal/suiteconfig"
)

func main() {
	var (
		configPath = flag.String("config", "", "suite config yaml (optional)")
		envFile    = flag.String("env", ".env", "dotenv file loaded before the environment is read (skipped if missing)")
		checksFlag = flag.String("checks", "", "comma separated check names or patterns, e.g. 'join/*,lockstep/sequence' (default: all)")
		seed       = flag.Uint64("seed", 0, "seed for every random choice (0 = pick one)")
		rerun      = flag.String("rerun", "", "rerun the last failure of this check with its seed (needs the index)")
		local      = flag.Bool("local", false, "run against the in-process reference server instead of the configured target")
		indexPath  = flag.String("index", "", "run index sqlite path (default from config, 'none' to disable)")
		traceDir   = flag.String("traces", "", "trace directory (default from config)")
		keepTraces = flag.Bool("keep_traces", false, "keep traces of passing checks")
		list       = flag.Bool("list", false, "list checks and exit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[conformance] ", log.LstdFlags|log.Lmicroseconds)

	if *list {
		for _, name := range suite.Names(suite.All()) {
			fmt.Println(name)
		}
		return
	}

	if err := suiteconfig.LoadDotEnv(*envFile); err != nil {
		logger.Fatalf("dotenv: %v", err)
	}
	cfg, err := suiteconfig.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		logger.Fatalf("env: %v", err)
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *indexPath != "" {
		cfg.IndexPath = *indexPath
	}
	if cfg.IndexPath == "none" {
		cfg.IndexPath = ""
	}
	if *traceDir != "" {
		cfg.TraceDir = *traceDir
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	var game *gameconfig.Config
	if g, ok, err := cfg.GameConfig(); err != nil {
		logger.Fatalf("game config: %v", err)
	} else if ok {
		game = &g
	} else {
		logger.Printf("no game config; reference checks will be skipped")
	}
	retirement := cfg.RetirementTime(game)

	ctx, cancel := signalContext()
	defer cancel()

	var idx *indexdb.SQLiteIndex
	if cfg.IndexPath != "" {
		idx, err = indexdb.OpenSQLite(cfg.IndexPath)
		if err != nil {
			logger.Fatalf("index: %v", err)
		}
		defer idx.Close()
		if cfg.ConfigPath != "" {
			body, err := os.ReadFile(cfg.ConfigPath)
			if err != nil {
				logger.Fatalf("game config: %v", err)
			}
			digest, err := idx.UpsertConfig(ctx, filepath.Base(cfg.ConfigPath), body)
			if err != nil {
				logger.Fatalf("index config: %v", err)
			}
			logger.Printf("game config %s sha256=%s", cfg.ConfigPath, digest)
		}
	}

	var patterns []string
	if *checksFlag != "" {
		for _, p := range strings.Split(*checksFlag, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
	}
	if *rerun != "" {
		if idx == nil {
			logger.Fatalf("-rerun needs the run index")
		}
		last, ok, err := idx.LastFailure(ctx, *rerun)
		if err != nil {
			logger.Fatalf("index: %v", err)
		}
		if !ok {
			logger.Fatalf("no recorded failure of %s", *rerun)
		}
		logger.Printf("rerunning %s from run %s: %s", *rerun, last.RunID, last.Detail)
		patterns = []string{*rerun}
		cfg.Seed = last.Seed
	}
	checks, err := suite.Select(suite.All(), patterns)
	if err != nil {
		logger.Fatalf("checks: %v", err)
	}

	var target suite.Target
	if *local {
		if game == nil {
			logger.Fatalf("-local needs a game config (CONFIG_PATH or config_path)")
		}
		target = &suite.LocalTarget{
			Game:    *game,
			Options: []reference.Option{reference.WithRetirement(retirement)},
			Logger:  log.New(os.Stdout, "[refserver] ", log.LstdFlags|log.Lmicroseconds),
		}
	} else {
		target = &suite.ProcessTarget{
			Config: cfg,
			Logger: logger,
			Output: log.New(os.Stdout, "[sut] ", log.LstdFlags|log.Lmicroseconds),
		}
	}
	defer target.Stop()

	r := &suite.Runner{
		Target:     target,
		Game:       game,
		ConfigPath: cfg.ConfigPath,
		MapID:      cfg.MapID,
		Retirement: retirement,
		Tolerance:  cfg.Tolerance,
		Seed:       cfg.Seed,
		TraceDir:   cfg.TraceDir,
		KeepTraces: *keepTraces,
		Logger:     logger,
	}
	if idx != nil {
		r.Index = idx
	}
	rep, err := r.Run(ctx, checks)
	if err != nil {
		logger.Printf("run interrupted: %v", err)
	}
	if idx != nil {
		st := idx.Stats()
		if st.DropRunTotal+st.DropCheckTotal > 0 {
			logger.Printf("index dropped runs=%d checks=%d", st.DropRunTotal, st.DropCheckTotal)
		}
	}
	if rep.Failed() > 0 || err != nil {
		logger.Printf("rerun with: -seed %d", rep.Seed)
		if idx != nil {
			_ = idx.Close()
		}
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
