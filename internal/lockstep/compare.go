package lockstep

import (
	"fmt"
	"strings"
	"time"

	"roadtest.ai/internal/model"
)

const (
	FieldPresence = "presence"
	FieldPos      = "pos"
	FieldSpeed    = "speed"
	FieldDir      = "dir"
	FieldRetired  = "retired"
)

type Mismatch struct {
	PlayerID string
	Field    string
	SUT      any
	Ref      any
}

func (m Mismatch) String() string {
	return fmt.Sprintf("player %s %s: sut=%v ref=%v", m.PlayerID, m.Field, m.SUT, m.Ref)
}

// Divergence is returned when the SUT and the reference disagree after an
// operation.
type Divergence struct {
	Seq int
	Op  string
	// Elapsed is the simulated time of the reference when it was detected.
	Elapsed    time.Duration
	Mismatches []Mismatch
}

func (d *Divergence) Error() string {
	parts := make([]string, len(d.Mismatches))
	for i, m := range d.Mismatches {
		parts[i] = m.String()
	}
	return fmt.Sprintf("divergence at step %d (%s, t=%s): %s", d.Seq, d.Op, d.Elapsed, strings.Join(parts, "; "))
}

// Compare reports every difference between two snapshots of the same
// session. Player sets must match exactly. Positions and speeds are equal
// within tol; directions must match exactly. Score is not compared.
func Compare(sut, ref model.SessionState, tol float64) []Mismatch {
	union := model.SessionState{Players: map[string]model.PlayerState{}}
	for id, p := range sut.Players {
		union.Players[id] = p
	}
	for id, p := range ref.Players {
		union.Players[id] = p
	}

	var out []Mismatch
	for _, id := range union.IDs() {
		s, inSUT := sut.Players[id]
		r, inRef := ref.Players[id]
		if inSUT != inRef {
			out = append(out, Mismatch{PlayerID: id, Field: FieldPresence, SUT: inSUT, Ref: inRef})
			continue
		}
		if !s.Pos.Near(r.Pos, tol) {
			out = append(out, Mismatch{PlayerID: id, Field: FieldPos, SUT: s.Pos, Ref: r.Pos})
		}
		if !s.Speed.Near(r.Speed, tol) {
			out = append(out, Mismatch{PlayerID: id, Field: FieldSpeed, SUT: s.Speed, Ref: r.Speed})
		}
		if s.Dir != r.Dir {
			out = append(out, Mismatch{PlayerID: id, Field: FieldDir, SUT: string(s.Dir), Ref: string(r.Dir)})
		}
	}
	return out
}
