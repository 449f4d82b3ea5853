// Package reference is the in-process reference model of the game server.
// It is deterministic for a given call sequence and is the ground truth the
// lockstep harness compares the server under test against.
package reference

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/sim/gameconfig"
)

type player struct {
	id    int
	name  string
	token string

	pos   model.Point
	speed model.Vector2D
	dir   model.Direction
	score float64

	playTime time.Duration
	idle     time.Duration
}

type session struct {
	m       model.Map
	speed   float64
	roads   []rect
	players []*player // join order
}

// Game holds every session of the reference model. It is safe for
// concurrent use; the lockstep harness drives it from one goroutine while
// the HTTP test double serves it from many.
type Game struct {
	mu sync.Mutex

	cfg    gameconfig.Config
	rnd    *rand.Rand
	retire time.Duration
	clock  time.Duration
	nextID int

	sessions map[string]*session
	order    []string
	byToken  map[string]*player
	mapOf    map[string]string // token -> map id
	records  []model.Record
}

type Option func(*Game)

// WithRand sets the source used for random spawn points.
func WithRand(r *rand.Rand) Option { return func(g *Game) { g.rnd = r } }

// WithRetirement overrides the config's retirement time.
func WithRetirement(d time.Duration) Option { return func(g *Game) { g.retire = d } }

func New(cfg gameconfig.Config, opts ...Option) *Game {
	g := &Game{
		cfg:      cfg,
		retire:   cfg.RetirementTime(),
		sessions: map[string]*session{},
		byToken:  map[string]*player{},
		mapOf:    map[string]string{},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Game) Maps() []model.MapInfo {
	out := make([]model.MapInfo, 0, len(g.cfg.Maps))
	for _, m := range g.cfg.Maps {
		out = append(out, m.Info())
	}
	return out
}

func (g *Game) Map(id string) (model.Map, error) {
	m, ok := g.cfg.Map(id)
	if !ok {
		return model.Map{}, fmt.Errorf("%w: %q", ErrMapNotFound, id)
	}
	return m, nil
}

// Elapsed is the total simulated time since the game was created.
func (g *Game) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clock
}

// Join adds a player whose identity and spawn point were decided elsewhere
// (by the server under test). The reference never invents ids or tokens.
func (g *Game) Join(id model.Identity, spawn model.Point) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.sessionLocked(id.Name, id.MapID)
	if err != nil {
		return err
	}
	if id.Token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidArgument)
	}
	if _, dup := g.byToken[id.Token]; dup {
		return fmt.Errorf("%w: token %s", ErrDuplicatePlayer, id.Token)
	}
	for _, ss := range g.sessions {
		for _, p := range ss.players {
			if p.id == id.PlayerID {
				return fmt.Errorf("%w: id %d", ErrDuplicatePlayer, id.PlayerID)
			}
		}
	}
	g.addLocked(s, id, spawn)
	if id.PlayerID >= g.nextID {
		g.nextID = id.PlayerID + 1
	}
	return nil
}

// Admit adds a player with the next free id and a spawn point chosen by the
// model itself. Used when the reference stands in for the server.
func (g *Game) Admit(name, mapID, token string) (model.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.sessionLocked(name, mapID)
	if err != nil {
		return model.Identity{}, err
	}
	if _, dup := g.byToken[token]; dup || token == "" {
		return model.Identity{}, fmt.Errorf("%w: token %q", ErrDuplicatePlayer, token)
	}
	id := model.Identity{Token: token, PlayerID: g.nextID, Name: name, MapID: mapID}
	g.nextID++
	g.addLocked(s, id, g.spawnLocked(s))
	return id, nil
}

func (g *Game) sessionLocked(name, mapID string) (*session, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty player name", ErrInvalidArgument)
	}
	if s, ok := g.sessions[mapID]; ok {
		return s, nil
	}
	m, ok := g.cfg.Map(mapID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMapNotFound, mapID)
	}
	s := &session{m: m, speed: g.cfg.Speed(m)}
	for _, r := range m.Roads {
		s.roads = append(s.roads, roadRect(r))
	}
	g.sessions[mapID] = s
	g.order = append(g.order, mapID)
	return s, nil
}

func (g *Game) addLocked(s *session, id model.Identity, spawn model.Point) {
	p := &player{
		id:    id.PlayerID,
		name:  id.Name,
		token: id.Token,
		pos:   spawn,
		dir:   model.DirUp,
	}
	s.players = append(s.players, p)
	g.byToken[id.Token] = p
	g.mapOf[id.Token] = s.m.ID
}

func (g *Game) spawnLocked(s *session) model.Point {
	if !g.cfg.RandomizeSpawnPoints || g.rnd == nil {
		return s.m.Roads[0].Start()
	}
	r := s.m.Roads[g.rnd.IntN(len(s.m.Roads))]
	a, b := r.Start(), r.End()
	t := g.rnd.Float64()
	return model.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

// Move sets the velocity and facing of the player holding token. An empty
// direction stops the player and keeps its facing.
func (g *Game) Move(token string, dir model.Direction) error {
	if !dir.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidArgument, string(dir))
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.byToken[token]
	if !ok {
		return ErrUnknownToken
	}
	if dir == model.DirNone {
		p.speed = model.Vector2D{}
		return nil
	}
	s := g.sessions[g.mapOf[token]]
	p.dir = dir
	p.speed = dir.Velocity(s.speed)
	if !p.speed.IsZero() {
		p.idle = 0
	}
	return nil
}

// Tick advances every session by deltaMs milliseconds and retires players
// whose idle time reaches the retirement threshold.
func (g *Game) Tick(deltaMs int64) error {
	if deltaMs < 0 {
		return fmt.Errorf("%w: negative time delta %d", ErrInvalidArgument, deltaMs)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	dt := time.Duration(deltaMs) * time.Millisecond
	secs := float64(deltaMs) / 1000
	g.clock += dt

	for _, mapID := range g.order {
		s := g.sessions[mapID]
		kept := s.players[:0]
		for _, p := range s.players {
			idle := dt
			if !p.speed.IsZero() {
				next, blocked := step(s.roads, p.pos, p.speed, secs)
				idle = 0
				if blocked {
					moving := time.Duration(p.pos.Dist(next) / p.speed.Len() * float64(time.Second))
					if moving < dt {
						idle = dt - moving
					}
					p.speed = model.Vector2D{}
				}
				p.pos = next
			}
			p.idle += idle
			if g.retire > 0 && p.idle >= g.retire {
				over := p.idle - g.retire
				if over > dt {
					over = dt
				}
				p.playTime += dt - over
				g.retireLocked(p)
				continue
			}
			p.playTime += dt
			kept = append(kept, p)
		}
		for i := len(kept); i < len(s.players); i++ {
			s.players[i] = nil
		}
		s.players = kept
	}
	return nil
}

func (g *Game) retireLocked(p *player) {
	g.records = append(g.records, model.Record{
		Name:     p.name,
		Score:    p.score,
		PlayTime: p.playTime.Seconds(),
	})
	delete(g.byToken, p.token)
	delete(g.mapOf, p.token)
}

// State returns the session snapshot visible to the holder of token.
func (g *Game) State(token string) (model.SessionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byToken[token]; !ok {
		return model.SessionState{}, ErrUnknownToken
	}
	s := g.sessions[g.mapOf[token]]
	out := model.SessionState{Players: make(map[string]model.PlayerState, len(s.players))}
	for _, p := range s.players {
		out.Players[model.PlayerKey(p.id)] = model.PlayerState{
			Pos:   p.pos,
			Speed: p.speed,
			Dir:   p.dir,
			Score: p.score,
		}
	}
	return out, nil
}

// Players returns id -> name for the session of token.
func (g *Game) Players(token string) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byToken[token]; !ok {
		return nil, ErrUnknownToken
	}
	s := g.sessions[g.mapOf[token]]
	out := make(map[string]string, len(s.players))
	for _, p := range s.players {
		out[model.PlayerKey(p.id)] = p.name
	}
	return out, nil
}

// Records returns retired players by descending score. Equal scores keep
// retirement order.
func (g *Game) Records(start, maxItems int) ([]model.Record, error) {
	if start < 0 || maxItems < 0 || maxItems > model.MaxRecordsPage {
		return nil, fmt.Errorf("%w: start=%d maxItems=%d", ErrInvalidArgument, start, maxItems)
	}
	g.mu.Lock()
	sorted := append([]model.Record(nil), g.records...)
	g.mu.Unlock()

	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if start >= len(sorted) {
		return []model.Record{}, nil
	}
	end := start + maxItems
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[start:end], nil
}

// OnRoad reports whether p is a legal position on mapID.
func (g *Game) OnRoad(mapID string, p model.Point) bool {
	m, ok := g.cfg.Map(mapID)
	if !ok {
		return false
	}
	roads := make([]rect, 0, len(m.Roads))
	for _, r := range m.Roads {
		roads = append(roads, roadRect(r))
	}
	return onRoads(roads, p)
}
