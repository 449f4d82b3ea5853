package model

import (
	"sort"
	"strconv"
)

// PlayerState is the observable part of a player shared by both simulators.
type PlayerState struct {
	Pos   Point
	Speed Vector2D
	Dir   Direction
	Score float64
}

// SessionState maps player id (as it appears in JSON object keys) to player state.
type SessionState struct {
	Players map[string]PlayerState
}

func PlayerKey(id int) string { return strconv.Itoa(id) }

// IDs returns the player keys in numeric order when possible, lexical otherwise.
func (s SessionState) IDs() []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (s SessionState) Player(id int) (PlayerState, bool) {
	p, ok := s.Players[PlayerKey(id)]
	return p, ok
}

// Identity is what the SUT assigns on join and what the reference must reuse.
type Identity struct {
	Token    string
	PlayerID int
	Name     string
	MapID    string
}
