package leaderboard

import (
	"context"
	"io"
	"log"
	"math/rand/v2"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/testserver"
	"roadtest.ai/internal/transport/httpapi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T) *httpapi.Client {
	t.Helper()
	cfg, err := gameconfig.Parse([]byte(`{
	  "defaultDogSpeed": 1.0,
	  "dogRetirementTime": 10.0,
	  "maps": [{"id": "map1", "name": "Map 1",
	    "roads": [{"x0": 0, "y0": 0, "x1": 40}, {"x0": 40, "y0": 0, "y1": 30}],
	    "buildings": [], "offices": []}]
	}`))
	require.NoError(t, err)
	srv := httptest.NewServer(testserver.New(reference.New(cfg), log.New(io.Discard, "", 0)).Handler())
	t.Cleanup(srv.Close)
	c, err := httpapi.New(srv.URL)
	require.NoError(t, err)
	return c
}

func rec(name string, score, playTime float64) model.Record {
	return model.Record{Name: name, Score: score, PlayTime: playTime}
}

func TestPlayer_PlayTimeIsExact(t *testing.T) {
	var p Player
	for i := 0; i < 1000; i++ {
		p.AddTime(1)
	}
	assert.Equal(t, 1.0, p.PlayTime())
	p.AddTime(100)
	assert.Equal(t, 1.1, p.PlayTime())
}

func TestPage(t *testing.T) {
	all := make([]model.Record, 150)
	assert.Len(t, Page(all, 0, 100), 100)
	assert.Len(t, Page(all, 0, 500), 100)
	assert.Len(t, Page(all, 120, 100), 30)
	assert.Empty(t, Page(all, 150, 10))
	assert.Empty(t, Page(all, 3, 0))
}

func TestComparePage_TiesAreUnordered(t *testing.T) {
	all := []model.Record{rec("a", 5, 10), rec("b", 3, 10), rec("c", 3, 10), rec("d", 3, 10), rec("e", 1, 10)}
	opt := CompareOptions{Tol: 1e-9, PlayTime: true}

	require.NoError(t, Compare([]model.Record{rec("a", 5, 10), rec("d", 3, 10), rec("b", 3, 10), rec("c", 3, 10), rec("e", 1, 10)}, all, opt))
	require.NoError(t, ComparePage([]model.Record{rec("c", 3, 10), rec("b", 3, 10)}, all, 1, 2, opt))
	require.NoError(t, ComparePage([]model.Record{rec("d", 3, 10)}, all, 1, 1, opt))

	err := Compare([]model.Record{rec("b", 3, 10), rec("a", 5, 10), rec("c", 3, 10), rec("d", 3, 10), rec("e", 1, 10)}, all, opt)
	require.Error(t, err)

	err = Compare([]model.Record{rec("a", 5, 10), rec("b", 3, 10), rec("b", 3, 10), rec("d", 3, 10), rec("e", 1, 10)}, all, opt)
	var m *Mismatch
	require.ErrorAs(t, err, &m)
	assert.Equal(t, 2, m.Index)
	assert.Equal(t, "unexpected name", m.Reason)

	err = Compare(all[:4], all, opt)
	require.ErrorAs(t, err, &m)
	assert.Equal(t, "length", m.Reason)

	err = Compare([]model.Record{rec("a", 5, 9), rec("b", 3, 10), rec("c", 3, 10), rec("d", 3, 10), rec("e", 1, 10)}, all, opt)
	require.ErrorAs(t, err, &m)
	assert.Equal(t, "play time of a", m.Reason)
	opt.PlayTime = false
	assert.NoError(t, Compare([]model.Record{rec("a", 5, 9), rec("b", 3, 10), rec("c", 3, 10), rec("d", 3, 10), rec("e", 1, 10)}, all, opt))
}

func TestMoveDelta(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 1))
	for i := 0; i < 200; i++ {
		d := MoveDelta(rnd, 10*time.Second, 10000)
		require.GreaterOrEqual(t, d, int64(100))
		require.LessOrEqual(t, d, int64(9000))
	}
	assert.Equal(t, int64(100), MoveDelta(rnd, 50*time.Millisecond, 10000))
}

func TestTribe_RetiresIntoRecords(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed=%d", seed)
	rnd := rand.New(rand.NewPCG(seed, seed))

	tribe, err := NewTribe(ctx, srv, rnd, "map1", 6, "Player")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, tribe.RandomMove(ctx, 10*time.Second))
	}
	require.NoError(t, tribe.UpdateScores(ctx))
	require.NoError(t, tribe.Stop(ctx))
	require.NoError(t, srv.Tick(ctx, 10000))
	tribe.AddTime(10000)

	got, err := srv.Records(ctx, 0, 100)
	require.NoError(t, err)
	require.NoError(t, Compare(got, tribe.Records(), CompareOptions{Tol: 1e-9}))
}

func TestTribe_StandingPlayersKeepExactPlayTime(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	tribe, err := NewTribe(ctx, srv, rand.New(rand.NewPCG(2, 2)), "map1", 3, "Idle")
	require.NoError(t, err)
	require.NoError(t, srv.Tick(ctx, 10000))
	tribe.AddTime(10000)

	got, err := srv.Records(ctx, 0, 100)
	require.NoError(t, err)
	require.NoError(t, Compare(got, tribe.Records(), CompareOptions{Tol: 1e-9, PlayTime: true}))
	assert.Equal(t, []string{"Idle 0", "Idle 1", "Idle 2"}, []string{got[0].Name, got[1].Name, got[2].Name})
}
