package httpapi

import (
	"errors"
	"fmt"
	"strings"
)

// Kind separates "the request failed" from "the body has the wrong shape"
// from "the body has the right shape but wrong values".
type Kind string

const (
	KindTransport Kind = "transport"
	KindEncoding  Kind = "encoding"
	KindSchema    Kind = "schema"
	KindData      Kind = "data"
)

var (
	ErrTransport = errors.New("transport failure")
	ErrEncoding  = errors.New("badly encoded JSON")
	ErrSchema    = errors.New("unexpected response shape")
	ErrData      = errors.New("inconsistent response data")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindEncoding:
		return ErrEncoding
	case KindSchema:
		return ErrSchema
	case KindData:
		return ErrData
	}
	return nil
}

// Error is returned by every Client call that reached a verdict about a
// response. errors.Is(err, ErrSchema) and friends select on Kind.
type Error struct {
	Kind   Kind
	Method string
	Path   string
	Status int

	// Object names what was being checked, e.g. "Map roads/0".
	Object   string
	Expected any
	Given    any

	Body []byte
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Method, e.Path, e.Kind.sentinel())
	if e.Status != 0 && e.Kind == KindTransport {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Object != "" {
		fmt.Fprintf(&b, ": %s", e.Object)
	}
	if e.Expected != nil || e.Given != nil {
		fmt.Fprintf(&b, ": expected %v, given %v", e.Expected, e.Given)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Kind == KindTransport && len(e.Body) > 0 {
		fmt.Fprintf(&b, " body=%s", truncate(e.Body, 256))
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := []error{e.Kind.sentinel()}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// KindOf returns the kind of an adapter error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
