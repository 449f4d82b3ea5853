package protocol

// Error codes carried in the {code, message} body of non-200 responses.
const (
	ErrMapNotFound     = "mapNotFound"
	ErrInvalidArgument = "invalidArgument"
	ErrInvalidToken    = "invalidToken"
	ErrUnknownToken    = "unknownToken"
	ErrInvalidMethod   = "invalidMethod"
	ErrBadRequest      = "badRequest"
)

var knownCodes = map[string]struct{}{
	ErrMapNotFound:     {},
	ErrInvalidArgument: {},
	ErrInvalidToken:    {},
	ErrUnknownToken:    {},
	ErrInvalidMethod:   {},
	ErrBadRequest:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
