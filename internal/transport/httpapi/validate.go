package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/protocol"
)

// Response is a fully read HTTP response.
type Response struct {
	Method string
	Path   string
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) fail(kind Kind, object string, expected, given any) *Error {
	return &Error{
		Kind:     kind,
		Method:   r.Method,
		Path:     r.Path,
		Status:   r.Status,
		Object:   object,
		Expected: expected,
		Given:    given,
		Body:     r.Body,
	}
}

// CheckHeaders verifies the header contract shared by every JSON response,
// successful or not: content type, cache control and a truthful
// content length (zero for HEAD).
func (r *Response) CheckHeaders() error {
	return r.checkHeaders(true)
}

// checkHeaders with headLength false tolerates a missing Content-Length on
// HEAD, which error responses are allowed.
func (r *Response) checkHeaders(headLength bool) error {
	required := []string{"Content-Type", "Cache-Control", "Content-Length"}
	if r.Method == http.MethodHead && !headLength && len(r.Header.Values("Content-Length")) == 0 {
		required = required[:2]
	}
	for _, h := range required {
		if len(r.Header.Values(h)) == 0 {
			return r.fail(KindSchema, "Response headers", "content-type, cache-control, content-length", headerNames(r.Header))
		}
	}
	if got := r.Header.Get("Content-Type"); got != protocol.ContentTypeJSON {
		return r.fail(KindData, "Content-Type", protocol.ContentTypeJSON, got)
	}
	if got := r.Header.Get("Cache-Control"); got != protocol.CacheNoCache {
		return r.fail(KindData, "Cache-Control", protocol.CacheNoCache, got)
	}
	if len(required) < 3 {
		return nil
	}
	declared, err := strconv.Atoi(r.Header.Get("Content-Length"))
	if err != nil {
		return r.fail(KindData, "Content-Length", "integer", r.Header.Get("Content-Length"))
	}
	if r.Method == http.MethodHead {
		if declared != 0 {
			return r.fail(KindData, "Content-Length for HEAD", 0, declared)
		}
		return nil
	}
	if declared != len(r.Body) {
		return r.fail(KindData, "Content-Length", len(r.Body), declared)
	}
	return nil
}

// CheckOK is the envelope check applied before any endpoint-specific one:
// status 200, then headers, then a body that parses as JSON. It returns the
// decoded body (nil for HEAD).
func (r *Response) CheckOK() (any, error) {
	if r.Status != http.StatusOK {
		return nil, r.fail(KindTransport, "Status code", http.StatusOK, r.Status)
	}
	if err := r.CheckHeaders(); err != nil {
		return nil, err
	}
	if r.Method == http.MethodHead {
		return nil, nil
	}
	return r.decode()
}

func (r *Response) decode() (any, error) {
	v, err := protocol.DecodeAny(r.Body)
	if err != nil {
		e := r.fail(KindEncoding, "Response body", nil, nil)
		e.Err = err
		return nil, e
	}
	return v, nil
}

// CheckError verifies a non-200 response: the expected status, the shared
// headers and, except for HEAD, an {code, message} body with the given code
// and a non-empty message.
func (r *Response) CheckError(status int, code string) (protocol.ErrorBody, error) {
	var body protocol.ErrorBody
	if r.Status != status {
		return body, r.fail(KindTransport, "Status code", status, r.Status)
	}
	if err := r.checkHeaders(false); err != nil {
		return body, err
	}
	if r.Method == http.MethodHead {
		return body, nil
	}
	v, err := r.decode()
	if err != nil {
		return body, err
	}
	if err := r.schema(protocol.SchemaError, v); err != nil {
		return body, err
	}
	obj := v.(map[string]any)
	body.Code, _ = obj["code"].(string)
	body.Message, _ = obj["message"].(string)
	if !protocol.IsKnownCode(body.Code) {
		return body, r.fail(KindData, "Error code", "a documented code", body.Code)
	}
	if body.Code != code {
		return body, r.fail(KindData, "Error code", code, body.Code)
	}
	if body.Message == "" {
		return body, r.fail(KindData, "Error message", "non-empty", body.Message)
	}
	return body, nil
}

// CheckAllow verifies the Allow header of a 405 lists only methods from
// allowed and includes want.
func (r *Response) CheckAllow(want string, allowed ...string) error {
	raw := r.Header.Get("Allow")
	if raw == "" {
		return r.fail(KindSchema, "Allow header", allowed, "missing")
	}
	ok := map[string]bool{}
	for _, m := range allowed {
		ok[strings.ToUpper(m)] = true
	}
	found := false
	for _, m := range strings.Split(raw, ",") {
		m = strings.ToUpper(strings.TrimSpace(m))
		if !ok[m] {
			return r.fail(KindData, "Allow header", allowed, raw)
		}
		if m == strings.ToUpper(want) {
			found = true
		}
	}
	if !found {
		return r.fail(KindData, "Allow header", want, raw)
	}
	return nil
}

func (r *Response) schema(name string, v any) error {
	err := protocol.Validate(name, v)
	if err == nil {
		return nil
	}
	var viol *protocol.Violation
	if errors.As(err, &viol) {
		obj := strings.TrimSuffix(name, ".schema.json")
		if viol.Location != "" {
			obj += " " + strings.TrimPrefix(viol.Location, "/")
		}
		e := r.fail(KindSchema, obj, viol.Keyword, viol.Message)
		return e
	}
	return err
}

// kind asserts v has one of the accepted JSON kinds.
func (r *Response) kind(object string, v any, accepted ...protocol.Kind) error {
	if protocol.KindIn(v, accepted...) {
		return nil
	}
	return r.fail(KindSchema, object, accepted, protocol.KindOf(v))
}

func headerNames(h http.Header) []string {
	out := make([]string, 0, len(h))
	for k := range h {
		out = append(out, strings.ToLower(k))
	}
	return out
}

// ValidateToken checks the 32-hex-digit bearer token format.
func ValidateToken(token string) error {
	if len(token) != 32 {
		return fmt.Errorf("token %q: length %d, want 32", token, len(token))
	}
	for _, c := range token {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return fmt.Errorf("token %q: not a hex value", token)
		}
	}
	return nil
}

func (r *Response) validateMap(v any) (model.Map, error) {
	if err := r.schema(protocol.SchemaMap, v); err != nil {
		return model.Map{}, err
	}
	obj := v.(map[string]any)
	var m model.Map
	m.ID = obj["id"].(string)
	m.Name = obj["name"].(string)

	if ds, ok := obj["dogSpeed"]; ok {
		f, _ := protocol.NumberValue(ds)
		if f < 0 {
			return m, r.fail(KindData, "Dog speed", "non-negative", f)
		}
		m.DogSpeed = model.Float(f)
	}

	for i, raw := range obj["roads"].([]any) {
		road := raw.(map[string]any)
		for key, c := range road {
			if err := r.kind(fmt.Sprintf("Road %d coordinate %s", i, key), c, protocol.Number...); err != nil {
				return m, err
			}
		}
		var rd model.Road
		rd.X0, _ = protocol.NumberValue(road["x0"])
		rd.Y0, _ = protocol.NumberValue(road["y0"])
		if x1, ok := road["x1"]; ok {
			f, _ := protocol.NumberValue(x1)
			rd.X1 = model.Float(f)
		} else {
			f, _ := protocol.NumberValue(road["y1"])
			rd.Y1 = model.Float(f)
		}
		m.Roads = append(m.Roads, rd)
	}

	for i, raw := range obj["buildings"].([]any) {
		bld := raw.(map[string]any)
		var b model.Building
		b.X, _ = protocol.NumberValue(bld["x"])
		b.Y, _ = protocol.NumberValue(bld["y"])
		b.W, _ = protocol.NumberValue(bld["w"])
		b.H, _ = protocol.NumberValue(bld["h"])
		if b.W <= 0 || b.H <= 0 {
			return m, r.fail(KindData, fmt.Sprintf("Building %d size", i), "positive w and h", bld)
		}
		m.Buildings = append(m.Buildings, b)
	}

	for _, raw := range obj["offices"].([]any) {
		off := raw.(map[string]any)
		var o model.Office
		o.ID = off["id"].(string)
		o.X, _ = protocol.NumberValue(off["x"])
		o.Y, _ = protocol.NumberValue(off["y"])
		o.OffsetX, _ = protocol.NumberValue(off["offsetX"])
		o.OffsetY, _ = protocol.NumberValue(off["offsetY"])
		m.Offices = append(m.Offices, o)
	}
	if m.Roads == nil {
		m.Roads = []model.Road{}
	}
	if m.Buildings == nil {
		m.Buildings = []model.Building{}
	}
	if m.Offices == nil {
		m.Offices = []model.Office{}
	}
	return m, nil
}

func (r *Response) validateState(v any) (model.SessionState, error) {
	if err := r.schema(protocol.SchemaState, v); err != nil {
		return model.SessionState{}, err
	}
	players := v.(map[string]any)["players"].(map[string]any)
	out := model.SessionState{Players: make(map[string]model.PlayerState, len(players))}
	for id, raw := range players {
		p, err := r.validatePlayer(id, raw.(map[string]any))
		if err != nil {
			return out, err
		}
		out.Players[id] = p
	}
	return out, nil
}

func (r *Response) validatePlayer(id string, obj map[string]any) (model.PlayerState, error) {
	var p model.PlayerState
	pos := obj["pos"].([]any)
	speed := obj["speed"].([]any)
	for i := range pos {
		if err := r.kind("Player "+id+" position", pos[i], protocol.KindFloat); err != nil {
			return p, err
		}
		if err := r.kind("Player "+id+" speed", speed[i], protocol.KindFloat); err != nil {
			return p, err
		}
	}
	p.Pos.X, _ = protocol.NumberValue(pos[0])
	p.Pos.Y, _ = protocol.NumberValue(pos[1])
	p.Speed.X, _ = protocol.NumberValue(speed[0])
	p.Speed.Y, _ = protocol.NumberValue(speed[1])

	dir, err := model.ParseDirection(obj["dir"].(string))
	if err != nil {
		return p, r.fail(KindData, "Player "+id+" direction", []string{"R", "L", "U", "D", ""}, obj["dir"])
	}
	p.Dir = dir
	if s, ok := obj["score"]; ok {
		p.Score, _ = protocol.NumberValue(s)
	}
	return p, nil
}
