package reference

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/sim/gameconfig"
)

func testConfig(t *testing.T) gameconfig.Config {
	t.Helper()
	cfg, err := gameconfig.Parse([]byte(`{
	  "defaultDogSpeed": 2.0,
	  "dogRetirementTime": 10.0,
	  "maps": [
	    {"id": "map1", "name": "Map 1",
	     "roads": [{"x0": 0, "y0": 0, "x1": 40}, {"x0": 40, "y0": 0, "y1": 30}],
	     "buildings": [], "offices": []},
	    {"id": "town", "name": "Town", "dogSpeed": 5.0,
	     "roads": [{"x0": 10, "y0": 10, "y1": 0}],
	     "buildings": [], "offices": []}
	  ]
	}`))
	require.NoError(t, err)
	return cfg
}

func join(t *testing.T, g *Game, token string, id int, name string, spawn model.Point) {
	t.Helper()
	require.NoError(t, g.Join(model.Identity{Token: token, PlayerID: id, Name: name, MapID: "map1"}, spawn))
}

func TestGame_MoveAlongRoad(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "dog", model.Point{})

	st, err := g.State("t1")
	require.NoError(t, err)
	p := st.Players["0"]
	assert.Equal(t, model.DirUp, p.Dir)
	assert.True(t, p.Speed.IsZero())

	require.NoError(t, g.Move("t1", model.DirRight))
	require.NoError(t, g.Tick(1500))

	st, _ = g.State("t1")
	p = st.Players["0"]
	assert.Equal(t, model.Point{X: 3, Y: 0}, p.Pos)
	assert.Equal(t, model.Vector2D{X: 2}, p.Speed)
	assert.Equal(t, model.DirRight, p.Dir)
}

func TestGame_StopsAtRoadEdge(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "dog", model.Point{})

	require.NoError(t, g.Move("t1", model.DirUp))
	require.NoError(t, g.Tick(1000))
	st, _ := g.State("t1")
	p := st.Players["0"]
	assert.Equal(t, model.Point{X: 0, Y: -RoadHalfWidth}, p.Pos)
	assert.True(t, p.Speed.IsZero(), "blocked player must stop")
	assert.Equal(t, model.DirUp, p.Dir)

	require.NoError(t, g.Move("t1", model.DirLeft))
	require.NoError(t, g.Tick(10000))
	st, _ = g.State("t1")
	assert.Equal(t, model.Point{X: -RoadHalfWidth, Y: -RoadHalfWidth}, st.Players["0"].Pos)
}

func TestGame_TurnsAtCrossing(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "dog", model.Point{X: 40, Y: 0})

	require.NoError(t, g.Move("t1", model.DirDown))
	require.NoError(t, g.Tick(5000))
	st, _ := g.State("t1")
	assert.Equal(t, model.Point{X: 40, Y: 10}, st.Players["0"].Pos)

	require.NoError(t, g.Move("t1", model.DirRight))
	require.NoError(t, g.Tick(5000))
	st, _ = g.State("t1")
	assert.Equal(t, model.Point{X: 40 + RoadHalfWidth, Y: 10}, st.Players["0"].Pos)
}

func TestGame_EmptyMoveKeepsFacing(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "dog", model.Point{})

	require.NoError(t, g.Move("t1", model.DirRight))
	require.NoError(t, g.Move("t1", model.DirNone))
	st, _ := g.State("t1")
	assert.Equal(t, model.DirRight, st.Players["0"].Dir)
	assert.True(t, st.Players["0"].Speed.IsZero())
}

func TestGame_RetiresIdlePlayer(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "Julius Can", model.Point{})

	require.NoError(t, g.Tick(9999))
	_, err := g.State("t1")
	require.NoError(t, err)

	require.NoError(t, g.Tick(1))
	_, err = g.State("t1")
	assert.True(t, errors.Is(err, ErrUnknownToken))

	recs, err := g.Records(0, 100)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.Record{Name: "Julius Can", Score: 0, PlayTime: 10.0}, recs[0])
}

func TestGame_PlayTimeClippedAtRetirement(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "a", model.Point{})

	require.NoError(t, g.Tick(4000))
	require.NoError(t, g.Tick(25000))

	recs, _ := g.Records(0, 100)
	require.Len(t, recs, 1)
	assert.Equal(t, 10.0, recs[0].PlayTime)
}

func TestGame_MovingResetsIdle(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "a", model.Point{})

	require.NoError(t, g.Tick(9000))
	require.NoError(t, g.Move("t1", model.DirRight))
	require.NoError(t, g.Tick(5000))
	require.NoError(t, g.Move("t1", model.DirNone))
	require.NoError(t, g.Tick(9000))
	_, err := g.State("t1")
	require.NoError(t, err, "idle clock restarts when the player moves")

	require.NoError(t, g.Tick(1000))
	recs, _ := g.Records(0, 100)
	require.Len(t, recs, 1)
	assert.InDelta(t, 24.0, recs[0].PlayTime, 1e-9)
}

func TestGame_RecordsOrderAndPaging(t *testing.T) {
	g := New(testConfig(t))
	for i, name := range []string{"a", "b", "c"} {
		join(t, g, name, i, name, model.Point{})
	}
	g.byToken["b"].score = 5
	require.NoError(t, g.Tick(10000))

	recs, err := g.Records(0, 100)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "b", recs[0].Name)
	assert.Equal(t, "a", recs[1].Name, "equal scores keep retirement order")
	assert.Equal(t, "c", recs[2].Name)

	page, err := g.Records(1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Name)

	empty, err := g.Records(10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = g.Records(0, 101)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestGame_JoinErrors(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "a", model.Point{})

	err := g.Join(model.Identity{Token: "t1", PlayerID: 5, Name: "b", MapID: "map1"}, model.Point{})
	assert.True(t, errors.Is(err, ErrDuplicatePlayer))

	err = g.Join(model.Identity{Token: "t2", PlayerID: 0, Name: "b", MapID: "map1"}, model.Point{})
	assert.True(t, errors.Is(err, ErrDuplicatePlayer))

	err = g.Join(model.Identity{Token: "t3", PlayerID: 1, Name: "", MapID: "nope"}, model.Point{})
	assert.True(t, errors.Is(err, ErrInvalidArgument), "empty name wins over unknown map")

	err = g.Join(model.Identity{Token: "t3", PlayerID: 1, Name: "c", MapID: "nope"}, model.Point{})
	assert.True(t, errors.Is(err, ErrMapNotFound))

	assert.True(t, errors.Is(g.Move("zz", model.DirUp), ErrUnknownToken))
	assert.True(t, errors.Is(g.Move("t1", model.Direction("X")), ErrInvalidArgument))
	assert.True(t, errors.Is(g.Tick(-1), ErrInvalidArgument))
}

func TestGame_SessionsAreSeparate(t *testing.T) {
	g := New(testConfig(t))
	join(t, g, "t1", 0, "a", model.Point{})
	require.NoError(t, g.Join(model.Identity{Token: "t2", PlayerID: 1, Name: "b", MapID: "town"}, model.Point{X: 10, Y: 10}))

	st, _ := g.State("t2")
	assert.Len(t, st.Players, 1)
	_, ok := st.Players["1"]
	assert.True(t, ok)

	require.NoError(t, g.Move("t2", model.DirUp))
	require.NoError(t, g.Tick(1000))
	st, _ = g.State("t2")
	assert.Equal(t, model.Point{X: 10, Y: 5}, st.Players["1"].Pos, "town uses its own speed")
}

func TestGame_AdmitAssignsIDsAndSpawn(t *testing.T) {
	g := New(testConfig(t))
	id0, err := g.Admit("a", "map1", "tok0")
	require.NoError(t, err)
	id1, err := g.Admit("b", "map1", "tok1")
	require.NoError(t, err)
	assert.Equal(t, 0, id0.PlayerID)
	assert.Equal(t, 1, id1.PlayerID)

	st, _ := g.State("tok0")
	assert.Equal(t, model.Point{}, st.Players["0"].Pos)
}

func TestGame_RandomSpawnStaysOnRoad(t *testing.T) {
	cfg := testConfig(t)
	cfg.RandomizeSpawnPoints = true
	g := New(cfg, WithRand(rand.New(rand.NewPCG(7, 7))))
	for i := 0; i < 20; i++ {
		id, err := g.Admit("p", "map1", string(rune('a'+i)))
		require.NoError(t, err)
		st, _ := g.State(id.Token)
		p := st.Players[model.PlayerKey(id.PlayerID)]
		assert.True(t, g.OnRoad("map1", p.Pos), "spawn %v off road", p.Pos)
	}
}
