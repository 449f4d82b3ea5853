package protocol

import (
	"roadtest.ai/internal/model"
)

// POST api/v1/game/join
type JoinRequest struct {
	UserName string `json:"userName"`
	MapID    string `json:"mapId"`
}

type JoinResponse struct {
	AuthToken string `json:"authToken"`
	PlayerID  int    `json:"playerId"`
}

// POST api/v1/game/player/action
type ActionRequest struct {
	Move string `json:"move"`
}

// POST api/v1/game/tick
type TickRequest struct {
	TimeDelta int64 `json:"timeDelta"`
}

// ErrorBody is the shape of every non-200 JSON response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PlayerEntry is one element of the players-list response.
type PlayerEntry struct {
	Name string `json:"name"`
}

// PlayerStateMsg is one player inside the state response.
type PlayerStateMsg struct {
	Pos   [2]Float `json:"pos"`
	Speed [2]Float `json:"speed"`
	Dir   string   `json:"dir"`
	Score Float    `json:"score"`
}

type StateMsg struct {
	Players map[string]PlayerStateMsg `json:"players"`
}

type RecordMsg struct {
	Name     string `json:"name"`
	Score    Float  `json:"score"`
	PlayTime Float  `json:"playTime"`
}

func PlayerStateFrom(p model.PlayerState) PlayerStateMsg {
	return PlayerStateMsg{
		Pos:   [2]Float{Float(p.Pos.X), Float(p.Pos.Y)},
		Speed: [2]Float{Float(p.Speed.X), Float(p.Speed.Y)},
		Dir:   string(p.Dir),
		Score: Float(p.Score),
	}
}

func StateFrom(s model.SessionState) StateMsg {
	out := StateMsg{Players: make(map[string]PlayerStateMsg, len(s.Players))}
	for id, p := range s.Players {
		out.Players[id] = PlayerStateFrom(p)
	}
	return out
}

func RecordFrom(r model.Record) RecordMsg {
	return RecordMsg{Name: r.Name, Score: Float(r.Score), PlayTime: Float(r.PlayTime)}
}

// Model converts a decoded state message back into model form.
func (m StateMsg) Model() model.SessionState {
	out := model.SessionState{Players: make(map[string]model.PlayerState, len(m.Players))}
	for id, p := range m.Players {
		out.Players[id] = model.PlayerState{
			Pos:   model.Point{X: float64(p.Pos[0]), Y: float64(p.Pos[1])},
			Speed: model.Vector2D{X: float64(p.Speed[0]), Y: float64(p.Speed[1])},
			Dir:   model.Direction(p.Dir),
			Score: float64(p.Score),
		}
	}
	return out
}
