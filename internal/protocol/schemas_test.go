package protocol_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"roadtest.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	decode := func(s string) any {
		t.Helper()
		v, err := protocol.DecodeAny([]byte(s))
		if err != nil {
			t.Fatalf("decode %s: %v", s, err)
		}
		return v
	}
	validate := func(name, body string) {
		t.Helper()
		if err := protocol.Validate(name, decode(body)); err != nil {
			t.Fatalf("validate %s: %v", name, err)
		}
	}

	validate(protocol.SchemaError, `{"code":"mapNotFound","message":"Map not found"}`)
	validate(protocol.SchemaMaps, `[{"id":"map1","name":"Map 1"},{"id":"town","name":"Town"}]`)
	validate(protocol.SchemaMap, `{
	  "id":"map1","name":"Map 1",
	  "roads":[{"x0":0,"y0":0,"x1":40},{"x0":40,"y0":0,"y1":30}],
	  "buildings":[{"x":5,"y":5,"w":30,"h":20}],
	  "offices":[{"id":"o0","x":40,"y":30,"offsetX":5,"offsetY":0}],
	  "dogSpeed":4.0
	}`)
	validate(protocol.SchemaJoin, `{"authToken":"6516861d89ebfff147bf2eb2b5153ae1","playerId":0}`)
	validate(protocol.SchemaState, `{"players":{"0":{"pos":[0.0,0.0],"speed":[1.0,0.0],"dir":"R"}}}`)
	validate(protocol.SchemaPlayers, `{"0":{"name":"User1"},"1":{"name":"User2"}}`)
	validate(protocol.SchemaRecords, `[{"name":"Julius Can","score":0,"playTime":10.0}]`)
	validate(protocol.SchemaEmpty, `{}`)
}

func TestSchemas_RoadWithBothEnds(t *testing.T) {
	v, err := protocol.DecodeAny([]byte(`{"id":"m","name":"M","roads":[{"x0":0,"y0":0,"x1":1,"y1":1}],"buildings":[],"offices":[]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	err = protocol.Validate(protocol.SchemaMap, v)
	var viol *protocol.Violation
	if !errors.As(err, &viol) {
		t.Fatalf("expected violation, got %v", err)
	}
	if !strings.HasPrefix(viol.Location, "/roads/0") {
		t.Fatalf("violation location = %q", viol.Location)
	}
}

func TestSchemas_StateMissingDir(t *testing.T) {
	v, _ := protocol.DecodeAny([]byte(`{"players":{"3":{"pos":[0.0,0.0],"speed":[0.0,0.0]}}}`))
	if err := protocol.Validate(protocol.SchemaState, v); err == nil {
		t.Fatalf("expected missing dir to fail")
	}
}

func TestFloat_MarshalKeepsFraction(t *testing.T) {
	b, err := json.Marshal([]protocol.Float{10, 0, 2.5, -3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "[10.0,0.0,2.5,-3.0]" {
		t.Fatalf("got %s", b)
	}
	v, _ := protocol.DecodeAny(b)
	for _, x := range v.([]any) {
		if protocol.KindOf(x) != protocol.KindFloat {
			t.Fatalf("%v decoded as %s", x, protocol.KindOf(x))
		}
	}
}

func TestKindOf(t *testing.T) {
	v, _ := protocol.DecodeAny([]byte(`[1, 1.5, 1e3, "s", true, null, [], {}]`))
	want := []protocol.Kind{
		protocol.KindInt, protocol.KindFloat, protocol.KindFloat, protocol.KindString,
		protocol.KindBool, protocol.KindNull, protocol.KindArray, protocol.KindObject,
	}
	for i, x := range v.([]any) {
		if got := protocol.KindOf(x); got != want[i] {
			t.Fatalf("item %d: kind=%s want %s", i, got, want[i])
		}
	}
}
