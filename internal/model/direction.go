package model

import (
	"fmt"
	"math/rand/v2"
)

// Direction is the facing/moving direction of a player as it travels on the wire.
type Direction string

const (
	DirRight Direction = "R"
	DirLeft  Direction = "L"
	DirUp    Direction = "U"
	DirDown  Direction = "D"
	DirNone  Direction = ""
)

// MovingDirections are the directions that put a player in motion.
var MovingDirections = []Direction{DirRight, DirLeft, DirUp, DirDown}

// ParseDirection accepts exactly the five wire spellings.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirRight, DirLeft, DirUp, DirDown, DirNone:
		return d, nil
	}
	return DirNone, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) Valid() bool {
	_, err := ParseDirection(string(d))
	return err == nil
}

// Velocity returns the velocity vector for moving in d at the given speed.
// The y axis grows downwards, so Up is negative.
func (d Direction) Velocity(speed float64) Vector2D {
	switch d {
	case DirRight:
		return Vector2D{X: speed}
	case DirLeft:
		return Vector2D{X: -speed}
	case DirUp:
		return Vector2D{Y: -speed}
	case DirDown:
		return Vector2D{Y: speed}
	}
	return Vector2D{}
}

func (d Direction) String() string {
	if d == DirNone {
		return `""`
	}
	return string(d)
}

// RandomDirection picks one of the four moving directions.
func RandomDirection(r *rand.Rand) Direction {
	return MovingDirections[r.IntN(len(MovingDirections))]
}
