package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

const Version = "v1"

// Endpoint paths, relative to the server base URL.
const (
	PathAPI     = "api/" + Version
	PathMaps    = PathAPI + "/maps"
	PathJoin    = PathAPI + "/game/join"
	PathState   = PathAPI + "/game/state"
	PathPlayers = PathAPI + "/game/players"
	PathAction  = PathAPI + "/game/player/action"
	PathTick    = PathAPI + "/game/tick"
	PathRecords = PathAPI + "/game/records"
)

var errTrailingData = errors.New("trailing data after JSON value")

func PathMap(id string) string { return PathMaps + "/" + id }

// Response envelope values every JSON response must carry.
const (
	ContentTypeJSON = "application/json"
	CacheNoCache    = "no-cache"
)

// Records pagination query parameters.
const (
	ParamStart    = "start"
	ParamMaxItems = "maxItems"
)

// DecodeAny decodes b keeping numbers as json.Number so integer and float
// literals stay distinguishable.
func DecodeAny(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errTrailingData
	}
	return v, nil
}
