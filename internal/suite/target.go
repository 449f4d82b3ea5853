package suite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"roadtest.ai/internal/persistence/recordsdb"
	"roadtest.ai/internal/process"
	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/suiteconfig"
	"roadtest.ai/internal/testserver"
	"roadtest.ai/internal/transport/httpapi"
)

// Target provides a fresh game server for each check.
type Target interface {
	// Start brings up a server with no players. With records set the
	// leaderboard must be empty too.
	Start(ctx context.Context, records bool) (*httpapi.Client, error)
	Stop() error
	String() string
}

// ProcessTarget launches the server binary for every check. Without a
// launch command it talks to an already running server and cannot
// guarantee a fresh state.
type ProcessTarget struct {
	Config suiteconfig.Config
	Logger *log.Logger
	// Output receives the server's stdout and stderr lines.
	Output *log.Logger

	proc *process.Process

	// nil means recordsdb.Reset and recordsdb.Exists.
	reset  func(context.Context, recordsdb.Params, string) error
	exists func(context.Context, recordsdb.Params, string) (bool, error)
}

func (t *ProcessTarget) String() string {
	if args := t.Config.ServerCommand(); len(args) > 0 {
		return strings.Join(args, " ")
	}
	return t.Config.BaseURL
}

func (t *ProcessTarget) Start(ctx context.Context, records bool) (*httpapi.Client, error) {
	if t.proc != nil {
		return nil, errors.New("target already started")
	}
	if records && t.Config.ResetRecords {
		if err := t.resetRecords(ctx); err != nil {
			return nil, fmt.Errorf("reset records: %w", err)
		}
	}
	if args := t.Config.ServerCommand(); len(args) > 0 {
		p, err := process.Start(ctx, process.Spec{
			Args:           args,
			Ready:          t.Config.Ready(),
			StartupTimeout: t.Config.StartupTimeout,
		}, t.Output)
		if err != nil {
			return nil, err
		}
		t.Logger.Printf("server pid=%d ready", p.Pid())
		t.proc = p
	}
	c, err := httpapi.New(t.Config.BaseURL, t.Config.ClientOptions()...)
	if err != nil {
		_ = t.Stop()
		return nil, err
	}
	return c, nil
}

// resetRecords recreates the records database and confirms it is back.
func (t *ProcessTarget) resetRecords(ctx context.Context) error {
	reset, exists := t.reset, t.exists
	if reset == nil {
		reset = recordsdb.Reset
	}
	if exists == nil {
		exists = recordsdb.Exists
	}
	params, db := t.Config.RecordsParams(), t.Config.Postgres.Database
	if db == "" {
		db = recordsdb.DefaultDatabase
	}
	if err := reset(ctx, params, db); err != nil {
		return err
	}
	ok, err := exists(ctx, params, db)
	if err != nil {
		return fmt.Errorf("check %s: %w", db, err)
	}
	if !ok {
		return fmt.Errorf("database %s missing after reset", db)
	}
	return nil
}

func (t *ProcessTarget) Stop() error {
	if t.proc == nil {
		return nil
	}
	p := t.proc
	t.proc = nil
	return p.Stop()
}

// LocalTarget serves the reference model over HTTP on a loopback port, a
// new game per check.
type LocalTarget struct {
	Game    gameconfig.Config
	Options []reference.Option
	Logger  *log.Logger

	srv *http.Server
}

func (t *LocalTarget) String() string { return "local reference server" }

func (t *LocalTarget) Start(ctx context.Context, _ bool) (*httpapi.Client, error) {
	if t.srv != nil {
		return nil, errors.New("target already started")
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	game := reference.New(t.Game, t.Options...)
	t.srv = &http.Server{
		Handler:           testserver.New(game, t.Logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := t.srv
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Logger.Printf("serve: %v", err)
		}
	}()
	return httpapi.New("http://" + ln.Addr().String() + "/")
}

func (t *LocalTarget) Stop() error {
	if t.srv == nil {
		return nil
	}
	srv := t.srv
	t.srv = nil
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
