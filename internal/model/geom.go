package model

import (
	"fmt"
	"math"
)

// DefaultTolerance is the absolute tolerance used when comparing coordinates.
const DefaultTolerance = 1e-9

type Point struct {
	X, Y float64
}

type Vector2D struct {
	X, Y float64
}

func (p Point) Add(v Vector2D) Point { return Point{X: p.X + v.X, Y: p.Y + v.Y} }

func (p Point) Dist(q Point) float64 { return math.Hypot(q.X-p.X, q.Y-p.Y) }

func (p Point) String() string { return fmt.Sprintf("(%g, %g)", p.X, p.Y) }

// Near reports whether both coordinates agree within tol (absolute) or
// within a relative 1e-9, whichever is looser.
func (p Point) Near(q Point, tol float64) bool {
	return closeEnough(p.X, q.X, tol) && closeEnough(p.Y, q.Y, tol)
}

func (v Vector2D) Scale(k float64) Vector2D { return Vector2D{X: v.X * k, Y: v.Y * k} }

func (v Vector2D) Len() float64 { return math.Hypot(v.X, v.Y) }

func (v Vector2D) IsZero() bool { return v.X == 0 && v.Y == 0 }

func (v Vector2D) String() string { return fmt.Sprintf("(%g, %g)", v.X, v.Y) }

func (v Vector2D) Near(w Vector2D, tol float64) bool {
	return closeEnough(v.X, w.X, tol) && closeEnough(v.Y, w.Y, tol)
}

// CloseEnough mirrors math.isclose with rel_tol=1e-9 and abs_tol=tol.
func CloseEnough(a, b, tol float64) bool { return closeEnough(a, b, tol) }

func closeEnough(a, b, tol float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return false
	}
	diff := math.Abs(a - b)
	rel := 1e-9 * math.Max(math.Abs(a), math.Abs(b))
	return diff <= math.Max(rel, tol)
}
