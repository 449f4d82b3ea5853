package reference

import "errors"

var (
	ErrUnknownToken    = errors.New("unknown token")
	ErrMapNotFound     = errors.New("map not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDuplicatePlayer = errors.New("duplicate player")
)
