package protocol

import (
	"strconv"
	"strings"
)

// Float is a float64 that always encodes with a fraction or exponent, so a
// JSON consumer sees a float literal even for whole values (10 -> 10.0).
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return []byte(s), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}
