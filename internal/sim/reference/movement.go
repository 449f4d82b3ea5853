package reference

import (
	"math"

	"roadtest.ai/internal/model"
)

// RoadHalfWidth is how far a player may stray from a road's axis.
const RoadHalfWidth = 0.4

type rect struct {
	minX, minY, maxX, maxY float64
}

func roadRect(r model.Road) rect {
	s, e := r.Start(), r.End()
	return rect{
		minX: math.Min(s.X, e.X) - RoadHalfWidth,
		minY: math.Min(s.Y, e.Y) - RoadHalfWidth,
		maxX: math.Max(s.X, e.X) + RoadHalfWidth,
		maxY: math.Max(s.Y, e.Y) + RoadHalfWidth,
	}
}

func (r rect) contains(p model.Point) bool {
	return p.X >= r.minX && p.X <= r.maxX && p.Y >= r.minY && p.Y <= r.maxY
}

func (r rect) clamp(p model.Point) model.Point {
	return model.Point{
		X: math.Min(math.Max(p.X, r.minX), r.maxX),
		Y: math.Min(math.Max(p.Y, r.minY), r.maxY),
	}
}

// step advances pos by v for dt seconds without leaving the union of roads.
// Among the roads under pos it keeps the one that lets the player travel
// furthest. blocked is true when the player was stopped short of the target.
func step(roads []rect, pos model.Point, v model.Vector2D, dt float64) (next model.Point, blocked bool) {
	target := pos.Add(v.Scale(dt))
	best, bestDist := pos, -1.0
	for _, r := range roads {
		if !r.contains(pos) {
			continue
		}
		c := r.clamp(target)
		if d := pos.Dist(c); d > bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 {
		return pos, true
	}
	if best == target {
		return target, false
	}
	return best, true
}

// onRoads reports whether p lies on at least one road.
func onRoads(roads []rect, p model.Point) bool {
	for _, r := range roads {
		if r.contains(p) {
			return true
		}
	}
	return false
}
