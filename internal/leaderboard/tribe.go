// Package leaderboard drives groups of players to retirement and checks the
// server's records against a locally kept projection.
package leaderboard

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"roadtest.ai/internal/model"
)

// Server is the part of the game API a tribe plays against.
type Server interface {
	Join(ctx context.Context, name, mapID string) (model.Identity, error)
	Move(ctx context.Context, token string, dir model.Direction) error
	Tick(ctx context.Context, deltaMs int64) error
	PlayerState(ctx context.Context, token string, playerID int) (model.PlayerState, error)
}

// Player is the local projection of one player's future record.
type Player struct {
	model.Identity
	Score float64

	playTime decimal.Decimal // seconds
}

func (p *Player) AddTime(ms int64) {
	p.playTime = p.playTime.Add(decimal.New(ms, -3))
}

func (p *Player) PlayTime() float64 { return p.playTime.InexactFloat64() }

func (p *Player) Record() model.Record {
	return model.Record{Name: p.Name, Score: p.Score, PlayTime: p.PlayTime()}
}

// Tribe is a group of players joined together and retired together.
type Tribe struct {
	srv     Server
	rnd     *rand.Rand
	Players []*Player
}

// NewTribe joins n players named "<prefix> <i>" on mapID.
func NewTribe(ctx context.Context, srv Server, rnd *rand.Rand, mapID string, n int, prefix string) (*Tribe, error) {
	t := &Tribe{srv: srv, rnd: rnd}
	for i := 0; i < n; i++ {
		id, err := srv.Join(ctx, fmt.Sprintf("%s %d", prefix, i), mapID)
		if err != nil {
			return t, fmt.Errorf("join %s %d: %w", prefix, i, err)
		}
		t.Players = append(t.Players, &Player{Identity: id})
	}
	return t, nil
}

func (t *Tribe) AddTime(ms int64) {
	for _, p := range t.Players {
		p.AddTime(ms)
	}
}

// Records returns the tribe's projected records by descending score.
// Equal scores keep join order.
func (t *Tribe) Records() []model.Record {
	out := make([]model.Record, 0, len(t.Players))
	for _, p := range t.Players {
		out = append(out, p.Record())
	}
	SortRecords(out)
	return out
}

// UpdateScores reads every player's current score from the server.
func (t *Tribe) UpdateScores(ctx context.Context) error {
	for _, p := range t.Players {
		st, err := t.srv.PlayerState(ctx, p.Token, p.PlayerID)
		if err != nil {
			return fmt.Errorf("score of %s: %w", p.Name, err)
		}
		p.Score = st.Score
	}
	return nil
}

// RandomTurn sends every player in a random moving direction.
func (t *Tribe) RandomTurn(ctx context.Context) error {
	for _, p := range t.Players {
		if err := t.srv.Move(ctx, p.Token, model.RandomDirection(t.rnd)); err != nil {
			return fmt.Errorf("move %s: %w", p.Name, err)
		}
	}
	return nil
}

// MoveDelta picks a tick that keeps well inside the retirement window:
// 100ms up to 90% of retirement, capped at maxMs.
func MoveDelta(rnd *rand.Rand, retirement time.Duration, maxMs int64) int64 {
	hi := retirement.Milliseconds() * 9 / 10
	if hi > maxMs {
		hi = maxMs
	}
	if hi <= 100 {
		return 100
	}
	return 100 + rnd.Int64N(hi-100+1)
}

// RandomMove turns every player randomly and advances time by a random
// delta below the retirement time.
func (t *Tribe) RandomMove(ctx context.Context, retirement time.Duration) error {
	if err := t.RandomTurn(ctx); err != nil {
		return err
	}
	ms := MoveDelta(t.rnd, retirement, 10000)
	if err := t.srv.Tick(ctx, ms); err != nil {
		return err
	}
	t.AddTime(ms)
	return nil
}

// Stop halts every player.
func (t *Tribe) Stop(ctx context.Context) error {
	for _, p := range t.Players {
		if err := t.srv.Move(ctx, p.Token, model.DirNone); err != nil {
			return fmt.Errorf("stop %s: %w", p.Name, err)
		}
	}
	return nil
}

// SortRecords orders records by descending score, stable for ties.
func SortRecords(recs []model.Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
}

// Merge combines projections of several tribes into one ordered list.
func Merge(lists ...[]model.Record) []model.Record {
	var out []model.Record
	for _, l := range lists {
		out = append(out, l...)
	}
	SortRecords(out)
	return out
}
