package suite

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"roadtest.ai/internal/leaderboard"
	"roadtest.ai/internal/model"
	"roadtest.ai/internal/protocol"
	"roadtest.ai/internal/transport/httpapi"
)

const recordTol = 1e-6

func recordChecks() []Check {
	return []Check{
		{Name: "records/clean", Records: true, Run: func(ctx context.Context, e *Env) error {
			return expectRecords(ctx, e, nil, 0, model.MaxRecordsPage, true)
		}},
		{Name: "records/retire-standing", Records: true, Run: checkRetireStanding},
		{Name: "records/retire-moving", Records: true, Run: checkRetireMoving},
		{Name: "records/few-zero", Records: true, Run: checkFewZero},
		{Name: "records/few", Records: true, Run: func(ctx context.Context, e *Env) error {
			return checkTribe(ctx, e, 10, "Player", 100, 350)
		}},
		{Name: "records/old-young", Records: true, Run: checkOldYoung},
		{Name: "records/hundred", Records: true, Run: func(ctx context.Context, e *Env) error {
			return checkTribe(ctx, e, 100, "Player", 10, 35)
		}},
		{Name: "records/hundred-plus", Records: true, Run: func(ctx context.Context, e *Env) error {
			return checkTribe(ctx, e, 150, "Player", 10, 35)
		}},
		{Name: "records/two-tribes", Records: true, Run: checkTwoTribes},
		{Name: "records/selection", Records: true, Run: checkSelection},
	}
}

func ms(d time.Duration) int64 { return d.Milliseconds() }

// expectRetired checks the token is no longer accepted.
func expectRetired(ctx context.Context, e *Env, token string) error {
	resp, err := e.Client.Do(ctx, httpapi.Request{Method: http.MethodGet, Path: protocol.PathState}.Bearer(token))
	if err != nil {
		return err
	}
	if resp.Status != http.StatusUnauthorized {
		return fmt.Errorf("state of a retired player: status %d, want %d", resp.Status, http.StatusUnauthorized)
	}
	return resp.CheckHeaders()
}

// expectRecords fetches one page and compares it with the sorted
// projection all.
func expectRecords(ctx context.Context, e *Env, all []model.Record, start, maxItems int, playTime bool) error {
	got, err := e.Client.Records(ctx, start, maxItems)
	if err != nil {
		return err
	}
	opt := leaderboard.CompareOptions{Tol: recordTol, PlayTime: playTime}
	if err := leaderboard.ComparePage(got, all, start, maxItems, opt); err != nil {
		return fmt.Errorf("records start=%d maxItems=%d: %w", start, maxItems, err)
	}
	return nil
}

// checkRetireStanding joins a player who never moves. One millisecond
// before the retirement time it still plays; at the retirement time it is
// gone with a zero score record.
func checkRetireStanding(ctx context.Context, e *Env) error {
	const name = "Julius Can"
	id, err := e.Client.Join(ctx, name, e.MapID)
	if err != nil {
		return err
	}
	if _, err := e.Client.State(ctx, id.Token); err != nil {
		return err
	}
	if err := e.Client.Tick(ctx, ms(e.Retirement)-1); err != nil {
		return err
	}
	if _, err := e.Client.State(ctx, id.Token); err != nil {
		return fmt.Errorf("retired early: %w", err)
	}
	if err := e.Client.Tick(ctx, 1); err != nil {
		return err
	}
	if err := expectRetired(ctx, e, id.Token); err != nil {
		return err
	}
	want := []model.Record{{Name: name, Score: 0, PlayTime: e.Retirement.Seconds()}}
	return expectRecords(ctx, e, want, 0, model.MaxRecordsPage, true)
}

// checkRetireMoving plays a hundred random rounds, stops and waits out the
// retirement time. The record keeps the last observed score.
func checkRetireMoving(ctx context.Context, e *Env) error {
	const name = "Julius Can"
	id, err := e.Client.Join(ctx, name, e.MapID)
	if err != nil {
		return err
	}
	if _, err := e.Client.State(ctx, id.Token); err != nil {
		return err
	}
	rnd := e.Gen.Rand()
	hi := ms(e.Retirement) * 9 / 10
	for i := 0; i < 100; i++ {
		if err := e.Client.Move(ctx, id.Token, e.Gen.Direction()); err != nil {
			return err
		}
		if err := e.Client.Tick(ctx, 10+rnd.Int64N(max(hi-10, 0)+1)); err != nil {
			return err
		}
	}
	st, err := e.Client.PlayerState(ctx, id.Token, id.PlayerID)
	if err != nil {
		return err
	}
	if err := e.Client.Move(ctx, id.Token, model.DirNone); err != nil {
		return err
	}
	if err := e.Client.Tick(ctx, ms(e.Retirement)); err != nil {
		return err
	}
	if err := expectRetired(ctx, e, id.Token); err != nil {
		return err
	}
	recs, err := e.Client.Records(ctx, 0, model.MaxRecordsPage)
	if err != nil {
		return err
	}
	if len(recs) == 0 || recs[0].Name != name {
		return fmt.Errorf("records %v: want %q first", recs, name)
	}
	if math.Abs(recs[0].Score-st.Score) > recordTol {
		return fmt.Errorf("record score %v, last observed %v", recs[0].Score, st.Score)
	}
	return nil
}

// checkFewZero retires a standing tribe; every record has exactly the
// retirement time as play time.
func checkFewZero(ctx context.Context, e *Env) error {
	tribe, err := leaderboard.NewTribe(ctx, e.Client, e.Gen.Rand(), e.MapID, 10, "Player")
	if err != nil {
		return err
	}
	if err := tribe.UpdateScores(ctx); err != nil {
		return err
	}
	if err := e.Client.Tick(ctx, ms(e.Retirement)); err != nil {
		return err
	}
	tribe.AddTime(ms(e.Retirement))
	return expectRecords(ctx, e, tribe.Records(), 0, model.MaxRecordsPage, true)
}

// playTribe joins n players, plays between lo and hi random rounds, reads
// their scores and stops them.
func playTribe(ctx context.Context, e *Env, n int, prefix string, lo, hi int) (*leaderboard.Tribe, error) {
	tribe, err := leaderboard.NewTribe(ctx, e.Client, e.Gen.Rand(), e.MapID, n, prefix)
	if err != nil {
		return nil, err
	}
	rounds := lo + e.Gen.Rand().IntN(hi-lo+1)
	for i := 0; i < rounds; i++ {
		if err := tribe.RandomMove(ctx, e.Retirement); err != nil {
			return nil, fmt.Errorf("round %d: %w", i, err)
		}
	}
	if err := tribe.UpdateScores(ctx); err != nil {
		return nil, err
	}
	return tribe, tribe.Stop(ctx)
}

// retire waits out the retirement time for every stopped player.
func retire(ctx context.Context, e *Env, tribes ...*leaderboard.Tribe) error {
	if err := e.Client.Tick(ctx, ms(e.Retirement)); err != nil {
		return err
	}
	for _, t := range tribes {
		t.AddTime(ms(e.Retirement))
	}
	return nil
}

// checkTribe retires one tribe and compares the first page. Play time is
// not compared: a player blocked by a road end idles before it stops.
func checkTribe(ctx context.Context, e *Env, n int, prefix string, lo, hi int) error {
	tribe, err := playTribe(ctx, e, n, prefix, lo, hi)
	if err != nil {
		return err
	}
	if err := retire(ctx, e, tribe); err != nil {
		return err
	}
	return expectRecords(ctx, e, tribe.Records(), 0, model.MaxRecordsPage, false)
}

// checkOldYoung retires an old tribe while a young one keeps playing; only
// the old tribe reaches the leaderboard.
func checkOldYoung(ctx context.Context, e *Env) error {
	old, err := leaderboard.NewTribe(ctx, e.Client, e.Gen.Rand(), e.MapID, 10, "Elder")
	if err != nil {
		return err
	}
	rnd := e.Gen.Rand()
	for i, n := 0, 50+rnd.IntN(151); i < n; i++ {
		if err := old.RandomMove(ctx, e.Retirement); err != nil {
			return err
		}
	}
	if err := old.UpdateScores(ctx); err != nil {
		return err
	}
	if err := old.Stop(ctx); err != nil {
		return err
	}
	half := ms(e.Retirement) / 2
	if err := e.Client.Tick(ctx, half); err != nil {
		return err
	}
	old.AddTime(half)

	young, err := leaderboard.NewTribe(ctx, e.Client, rnd, e.MapID, 10, "Infant")
	if err != nil {
		return err
	}
	// Young rounds last at least half the retirement time so the stopped
	// old tribe retires before the final tick.
	var elapsed int64
	for i, n := 0, 50+rnd.IntN(151); i < n || elapsed < half; i++ {
		if err := young.RandomTurn(ctx); err != nil {
			return err
		}
		delta := leaderboard.MoveDelta(rnd, e.Retirement, 1000)
		if err := e.Client.Tick(ctx, delta); err != nil {
			return err
		}
		young.AddTime(delta)
		old.AddTime(delta)
		elapsed += delta
	}
	if err := young.UpdateScores(ctx); err != nil {
		return err
	}
	if err := e.Client.Tick(ctx, half); err != nil {
		return err
	}
	return expectRecords(ctx, e, old.Records(), 0, model.MaxRecordsPage, false)
}

func checkTwoTribes(ctx context.Context, e *Env) error {
	foxes, err := playTribe(ctx, e, 50, "Red fox", 10, 35)
	if err != nil {
		return err
	}
	if err := retire(ctx, e, foxes); err != nil {
		return err
	}
	if err := expectRecords(ctx, e, foxes.Records(), 0, model.MaxRecordsPage, false); err != nil {
		return fmt.Errorf("first tribe: %w", err)
	}

	raccoons, err := playTribe(ctx, e, 50, "Orange Raccoon", 10, 35)
	if err != nil {
		return err
	}
	if err := retire(ctx, e, raccoons); err != nil {
		return err
	}
	all := leaderboard.Merge(foxes.Records(), raccoons.Records())
	if err := expectRecords(ctx, e, all, 0, model.MaxRecordsPage, false); err != nil {
		return fmt.Errorf("both tribes: %w", err)
	}
	return nil
}

// checkSelection retires tribes of random size and reads random pages.
// The leaderboard accumulates across rounds, so each page is checked
// against every tribe retired so far.
func checkSelection(ctx context.Context, e *Env) error {
	rnd := e.Gen.Rand()
	var all []model.Record
	for round := 0; round < 3; round++ {
		start := rnd.IntN(51)
		maxItems := rnd.IntN(model.MaxRecordsPage + 1)
		extra := rnd.IntN(101)

		tribe, err := playTribe(ctx, e, start+extra, fmt.Sprintf("Selected %d", round), 5, 15)
		if err != nil {
			return err
		}
		if err := retire(ctx, e, tribe); err != nil {
			return err
		}
		all = leaderboard.Merge(all, tribe.Records())
		if err := expectRecords(ctx, e, all, start, maxItems, false); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
	}
	return nil
}
