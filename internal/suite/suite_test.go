package suite

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadtest.ai/internal/lockstep"
	"roadtest.ai/internal/model"
	"roadtest.ai/internal/persistence/indexdb"
	"roadtest.ai/internal/persistence/recordsdb"
	"roadtest.ai/internal/persistence/trace"
	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/suiteconfig"
	"roadtest.ai/internal/testserver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const cfgJSON = `{
  "defaultDogSpeed": 2.0,
  "dogRetirementTime": 10.0,
  "maps": [
    {"id": "map1", "name": "Map 1",
     "roads": [{"x0": 0, "y0": 0, "x1": 40}, {"x0": 40, "y0": 0, "y1": 30}, {"x0": 0, "y0": 0, "y1": 30}],
     "buildings": [{"x": 5, "y": 5, "w": 30, "h": 20}],
     "offices": [{"id": "o0", "x": 40, "y": 30, "offsetX": 5, "offsetY": 0}]},
    {"id": "town", "name": "Town", "dogSpeed": 4.5,
     "roads": [{"x0": 0, "y0": 0, "x1": 10}],
     "buildings": [], "offices": []}
  ]
}`

var discard = log.New(io.Discard, "", 0)

func gameConfig(t *testing.T, raw string) gameconfig.Config {
	t.Helper()
	cfg, err := gameconfig.Parse([]byte(raw))
	require.NoError(t, err)
	return cfg
}

func runner(t *testing.T, cfg gameconfig.Config, target Target) *Runner {
	return &Runner{
		Target:     target,
		Game:       &cfg,
		MapID:      "map1",
		Retirement: cfg.RetirementTime(),
		Tolerance:  model.DefaultTolerance,
		Seed:       42,
		TraceDir:   t.TempDir(),
		Logger:     discard,
	}
}

type memIndex struct {
	mu     sync.Mutex
	runs   []indexdb.Run
	checks []indexdb.CheckResult
}

func (m *memIndex) RecordRun(r indexdb.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
}

func (m *memIndex) RecordCheck(c indexdb.CheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, c)
}

func TestAllChecksPassAgainstReferenceServer(t *testing.T) {
	cfg := gameConfig(t, cfgJSON)
	idx := &memIndex{}
	r := runner(t, cfg, &LocalTarget{Game: cfg, Logger: discard})
	r.Index = idx

	checks := All()
	rep, err := r.Run(context.Background(), checks)
	require.NoError(t, err)
	require.Len(t, rep.Results, len(checks))
	for _, res := range rep.Results {
		assert.Equal(t, indexdb.StatusPass, res.Status, "%s: %v", res.Check, res.Err)
		assert.Empty(t, res.TracePath, "%s: passing traces are dropped", res.Check)
	}
	assert.Zero(t, rep.Failed())

	require.Len(t, idx.runs, 1)
	assert.Equal(t, uint64(42), idx.runs[0].Seed)
	assert.Len(t, idx.checks, len(checks))
}

func TestDivergenceIsReportedWithTrace(t *testing.T) {
	cfg := gameConfig(t, cfgJSON)
	faster := gameConfig(t, cfgJSON)
	faster.DefaultDogSpeed = model.Float(3)

	idxPath := filepath.Join(t.TempDir(), "index.db")
	idx, err := indexdb.OpenSQLite(idxPath)
	require.NoError(t, err)

	r := runner(t, cfg, &LocalTarget{Game: faster, Logger: discard})
	r.Index = idx
	checks, err := Select(All(), []string{"lockstep/sequence"})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), checks)
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.Len(t, rep.Results, 1)

	res := rep.Results[0]
	require.Equal(t, indexdb.StatusFail, res.Status)
	d, ok := lockstep.AsDivergence(res.Err)
	require.True(t, ok, "want a divergence, got %v", res.Err)
	assert.Equal(t, lockstep.FieldSpeed, d.Mismatches[0].Field)

	require.NotEmpty(t, res.TracePath)
	var header trace.Entry
	var last trace.Entry
	require.NoError(t, trace.Read(res.TracePath, func(e trace.Entry) error {
		if e.Op == trace.OpHeader {
			header = e
		}
		last = e
		return nil
	}))
	assert.Equal(t, "lockstep/sequence", header.Check)
	assert.Equal(t, uint64(42), header.Seed)
	assert.NotEmpty(t, last.Divergence)

	idx, err = indexdb.OpenSQLite(idxPath)
	require.NoError(t, err)
	defer idx.Close()
	failed, ok, err := idx.LastFailure(context.Background(), "lockstep/sequence")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), failed.Seed)
	assert.Equal(t, res.TracePath, failed.TracePath)
}

func TestRetirementMismatchFailsRecordCheck(t *testing.T) {
	cfg := gameConfig(t, cfgJSON)
	r := runner(t, cfg, &LocalTarget{Game: cfg, Options: []reference.Option{reference.WithRetirement(0)}, Logger: discard})
	checks, err := Select(All(), []string{"records/retire-standing"})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), checks)
	require.NoError(t, err)
	assert.Equal(t, indexdb.StatusFail, rep.Results[0].Status)
	assert.Equal(t, 1, rep.Failed())
}

func TestDefaultRetirementAgreesWithServer(t *testing.T) {
	cfg := gameConfig(t, `{"defaultDogSpeed": 2.0, "maps": [
	  {"id": "map1", "name": "Map 1", "roads": [{"x0": 0, "y0": 0, "x1": 40}], "buildings": [], "offices": []}]}`)
	require.Nil(t, cfg.DogRetirementTime)

	target := &LocalTarget{Game: cfg, Options: []reference.Option{reference.WithRetirement(cfg.RetirementTime())}, Logger: discard}
	r := runner(t, cfg, target)
	r.Retirement = suiteconfig.Default().RetirementTime(&cfg)
	if r.Retirement != cfg.RetirementTime() {
		t.Fatalf("suite retirement=%s server retirement=%s", r.Retirement, cfg.RetirementTime())
	}
	checks, err := Select(All(), []string{"records/retire-standing", "lockstep/big-move"})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), checks)
	require.NoError(t, err)
	for _, res := range rep.Results {
		assert.Equal(t, indexdb.StatusPass, res.Status, "%s: %v", res.Check, res.Err)
	}
}

func TestReferenceChecksSkipWithoutConfig(t *testing.T) {
	cfg := gameConfig(t, cfgJSON)
	r := runner(t, cfg, &LocalTarget{Game: cfg, Logger: discard})
	r.Game = nil
	checks, err := Select(All(), []string{"maps/*", "lockstep/turn-one-player", "join/success"})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), checks)
	require.NoError(t, err)
	status := map[string]string{}
	for _, res := range rep.Results {
		status[res.Check] = res.Status
	}
	assert.Equal(t, map[string]string{
		"maps/match":               indexdb.StatusSkip,
		"lockstep/turn-one-player": indexdb.StatusSkip,
		"join/success":             indexdb.StatusPass,
	}, status)
	assert.Zero(t, rep.Failed())
}

func TestKeepTraces(t *testing.T) {
	cfg := gameConfig(t, cfgJSON)
	r := runner(t, cfg, &LocalTarget{Game: cfg, Logger: discard})
	r.KeepTraces = true
	checks, err := Select(All(), []string{"lockstep/two-players-turns"})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), checks)
	require.NoError(t, err)
	res := rep.Results[0]
	require.Equal(t, indexdb.StatusPass, res.Status, "%v", res.Err)
	_, err = os.Stat(res.TracePath)
	require.NoError(t, err)

	var moves int
	require.NoError(t, trace.Read(res.TracePath, func(e trace.Entry) error {
		if e.Op == trace.OpMove {
			moves++
		}
		return nil
	}))
	assert.Equal(t, 2*len(model.MovingDirections)*len(model.MovingDirections), moves)
}

func TestSelect(t *testing.T) {
	all := All()
	got, err := Select(all, []string{"tick/*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tick/invalid-delta", "tick/invalid-verb", "tick/missing-delta", "tick/success"}, Names(got))

	got, err = Select(all, nil)
	require.NoError(t, err)
	assert.Len(t, got, len(all))

	_, err = Select(all, []string{"nope/*"})
	assert.Error(t, err)
	_, err = Select(all, []string{"["})
	assert.Error(t, err)
}

func TestCheckNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range All() {
		assert.False(t, seen[c.Name], "duplicate check %s", c.Name)
		seen[c.Name] = true
		assert.NotNil(t, c.Run, c.Name)
	}
}

func TestProcessTargetWaitsForReadiness(t *testing.T) {
	cfg := gameConfig(t, cfgJSON)
	srv := httptest.NewServer(testserver.New(reference.New(cfg), discard).Handler())
	defer srv.Close()

	sc := suiteconfig.Default()
	sc.BaseURL = srv.URL + "/"
	sc.Command = []string{"sh", "-c", "echo 'Server has started...'; exec sleep 30"}
	sc.ResetRecords = false
	target := &ProcessTarget{Config: sc, Logger: discard, Output: discard}

	c, err := target.Start(context.Background(), true)
	require.NoError(t, err)
	maps, err := c.ListMaps(context.Background())
	require.NoError(t, err)
	assert.Len(t, maps, 2)

	_, err = target.Start(context.Background(), false)
	assert.Error(t, err, "second start without stop")
	require.NoError(t, target.Stop())
	require.NoError(t, target.Stop())
}

func TestProcessTargetConfirmsRecordsReset(t *testing.T) {
	sc := suiteconfig.Default()
	sc.BaseURL = "http://127.0.0.1:1/"
	sc.Postgres.Database = ""

	var reset []string
	present := false
	target := &ProcessTarget{
		Config: sc, Logger: discard, Output: discard,
		reset: func(_ context.Context, _ recordsdb.Params, db string) error {
			reset = append(reset, db)
			return nil
		},
		exists: func(_ context.Context, _ recordsdb.Params, db string) (bool, error) {
			return present, nil
		},
	}

	_, err := target.Start(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing after reset")

	present = true
	_, err = target.Start(context.Background(), true)
	require.NoError(t, err)
	_, err = target.Start(context.Background(), false)
	require.NoError(t, err, "no process was launched, so the target stays restartable")
	assert.Equal(t, []string{recordsdb.DefaultDatabase, recordsdb.DefaultDatabase}, reset)
}
