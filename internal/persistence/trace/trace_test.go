package trace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadtest.ai/internal/model"
)

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "a.jsonl.zst")
	w, err := Create(path)
	require.NoError(t, err)

	dir := "R"
	st := map[string]model.SessionState{"map1": {Players: map[string]model.PlayerState{
		"0": {Pos: model.Point{X: 1.5, Y: 0}, Speed: model.Vector2D{X: 1}, Dir: model.DirRight},
	}}}
	require.NoError(t, w.Record(Entry{Op: OpHeader, Check: "lockstep_small_move", Seed: 42}))
	require.NoError(t, w.Record(Entry{Seq: 1, Op: OpJoin, Token: "t", PlayerID: 0, Name: "dog", MapID: "map1", Spawn: &model.Point{}}))
	require.NoError(t, w.Record(Entry{Seq: 2, Op: OpMove, PlayerID: 0, Dir: &dir, SUT: Snapshots(st), Ref: Snapshots(st)}))
	require.NoError(t, w.Close())
	require.Error(t, w.Record(Entry{}))

	var got []Entry
	require.NoError(t, Read(path, func(e Entry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 3)
	assert.Equal(t, uint64(42), got[0].Seed)
	assert.Equal(t, "dog", got[1].Name)
	require.NotNil(t, got[2].Dir)
	assert.Equal(t, "R", *got[2].Dir)
	assert.Equal(t, st["map1"], got[2].SUT["map1"].Model())
}

func TestSnapshotsEmpty(t *testing.T) {
	assert.Nil(t, Snapshots(nil))
}
