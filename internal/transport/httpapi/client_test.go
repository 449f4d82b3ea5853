package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/protocol"
	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/testserver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testConfig = `{
  "defaultDogSpeed": 2.0,
  "dogRetirementTime": 10.0,
  "maps": [{"id": "map1", "name": "Map 1",
    "roads": [{"x0": 0, "y0": 0, "x1": 40}, {"x0": 40, "y0": 0, "y1": 30}],
    "buildings": [{"x": 5, "y": 5, "w": 30, "h": 20}],
    "offices": [{"id": "o0", "x": 40, "y": 30, "offsetX": 5, "offsetY": 0}]}]
}`

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	cfg, err := gameconfig.Parse([]byte(testConfig))
	require.NoError(t, err)
	srv := httptest.NewServer(testserver.New(reference.New(cfg), log.New(io.Discard, "", 0)).Handler())
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

// fixed serves one canned response for every request.
func fixed(t *testing.T, status int, header map[string]string, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		if _, ok := header["Content-Length"]; !ok {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

var goodHeaders = map[string]string{"Content-Type": "application/json", "Cache-Control": "no-cache"}

func TestClient_JoinStateMoveTick(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	maps, err := c.ListMaps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.MapInfo{{ID: "map1", Name: "Map 1"}}, maps)

	m, err := c.GetMap(ctx, "map1")
	require.NoError(t, err)
	assert.Len(t, m.Roads, 2)
	assert.Nil(t, m.DogSpeed)

	id, err := c.Join(ctx, "dog", "map1")
	require.NoError(t, err)
	assert.Equal(t, 0, id.PlayerID)
	assert.NoError(t, ValidateToken(id.Token))

	require.NoError(t, c.Move(ctx, id.Token, model.DirRight))
	require.NoError(t, c.Tick(ctx, 1500))

	p, err := c.PlayerState(ctx, id.Token, id.PlayerID)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, p.Pos.X, 1e-9)
	assert.Equal(t, model.DirRight, p.Dir)

	_, err = c.PlayerState(ctx, id.Token, 7)
	assert.True(t, errors.Is(err, ErrData), "got %v", err)

	names, err := c.Players(ctx, id.Token)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "dog"}, names)
	assert.NoError(t, c.PlayersHead(ctx, id.Token))
}

func TestClient_RecordsAfterRetirement(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	_, err := c.Join(ctx, "dog", "map1")
	require.NoError(t, err)
	require.NoError(t, c.Tick(ctx, 10000))

	recs, err := c.Records(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "dog", recs[0].Name)
	assert.InDelta(t, 10.0, recs[0].PlayTime, 1e-9)
}

func TestClient_RecordsPaginationPlacement(t *testing.T) {
	var query, body, ctype string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		query, body, ctype = r.URL.RawQuery, string(b), r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Length", "2")
		io.WriteString(w, "[]")
	}))
	defer srv.Close()
	ctx := context.Background()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.Records(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, "maxItems=7&start=3", query)
	assert.Empty(t, body)

	c, err = New(srv.URL, WithRecordsInBody())
	require.NoError(t, err)
	_, err = c.Records(ctx, 3, 7)
	require.NoError(t, err)
	assert.Empty(t, query)
	assert.Equal(t, "maxItems=7&start=3", body)
	assert.Equal(t, "application/x-www-form-urlencoded", ctype)
}

func TestClient_RecordsInBodyAgainstReferenceServer(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, WithRecordsInBody())
	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Join(ctx, name, "map1")
		require.NoError(t, err)
	}
	require.NoError(t, c.Tick(ctx, 10000))

	recs, err := c.Records(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].Name)
}

func TestClient_TransportFailureOnNon200(t *testing.T) {
	c := newClient(t)
	_, err := c.GetMap(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusNotFound, e.Status)
}

func TestClient_EnvelopeViolations(t *testing.T) {
	cases := map[string]struct {
		header map[string]string
		body   string
		kind   Kind
	}{
		"missing cache control": {map[string]string{"Content-Type": "application/json"}, `[]`, KindSchema},
		"wrong content type":    {map[string]string{"Content-Type": "text/plain", "Cache-Control": "no-cache"}, `[]`, KindData},
		"truncated body":        {goodHeaders, `[`, KindEncoding},
		"not json":              {goodHeaders, `[{]`, KindEncoding},
		"wrong type":            {goodHeaders, `{"id":"x"}`, KindSchema},
		"wrong cache control":   {map[string]string{"Content-Type": "application/json", "Cache-Control": "max-age=60"}, `[]`, KindData},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fixed(t, http.StatusOK, tc.header, tc.body).ListMaps(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err), "%v", err)
		})
	}
}

func TestClient_StateKindChecks(t *testing.T) {
	ctx := context.Background()
	cases := map[string]struct {
		body string
		kind Kind
	}{
		"integer position": {`{"players":{"0":{"pos":[1,0.0],"speed":[0.0,0.0],"dir":"U"}}}`, KindSchema},
		"short speed":      {`{"players":{"0":{"pos":[1.0,0.0],"speed":[0.0],"dir":"U"}}}`, KindSchema},
		"bad direction":    {`{"players":{"0":{"pos":[1.0,0.0],"speed":[0.0,0.0],"dir":"X"}}}`, KindData},
		"missing players":  {`{}`, KindSchema},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fixed(t, http.StatusOK, goodHeaders, tc.body).State(ctx, "00000000000000000000000000000000")
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err), "%v", err)
		})
	}

	st, err := fixed(t, http.StatusOK, goodHeaders, `{"players":{"3":{"pos":[1.5,2.0],"speed":[0.0,-1.0],"dir":"U","score":0.0}}}`).
		State(ctx, "00000000000000000000000000000000")
	require.NoError(t, err)
	p, ok := st.Player(3)
	require.True(t, ok)
	assert.Equal(t, model.Point{X: 1.5, Y: 2}, p.Pos)
	assert.Equal(t, model.Vector2D{Y: -1}, p.Speed)
}

func TestClient_MapDataChecks(t *testing.T) {
	ctx := context.Background()
	base := `{"id":"m","name":"M","roads":[%s],"buildings":[%s],"offices":[]%s}`
	cases := map[string]struct {
		roads, buildings, extra string
		kind                    Kind
	}{
		"road with both ends": {`{"x0":0,"y0":0,"x1":1,"y1":1}`, ``, ``, KindSchema},
		"road missing end":    {`{"x0":0,"y0":0}`, ``, ``, KindSchema},
		"zero width building": {`{"x0":0,"y0":0,"x1":1}`, `{"x":0,"y":0,"w":0,"h":1}`, ``, KindData},
		"negative dog speed":  {`{"x0":0,"y0":0,"x1":1}`, ``, `,"dogSpeed":-1.0`, KindData},
		"string coordinate":   {`{"x0":"0","y0":0,"x1":1}`, ``, ``, KindSchema},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			body := fmt.Sprintf(base, tc.roads, tc.buildings, tc.extra)
			_, err := fixed(t, http.StatusOK, goodHeaders, body).GetMap(ctx, "m")
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err), "%v", err)
		})
	}
}

func TestClient_JoinChecks(t *testing.T) {
	ctx := context.Background()
	_, err := fixed(t, http.StatusOK, goodHeaders, `{"authToken":"xyz","playerId":0}`).Join(ctx, "a", "m")
	assert.Equal(t, KindData, KindOf(err), "%v", err)

	_, err = fixed(t, http.StatusOK, goodHeaders, `{"authToken":"6516861d89ebfff147bf2eb2b5153ae1","playerId":0.0}`).Join(ctx, "a", "m")
	assert.Equal(t, KindSchema, KindOf(err), "%v", err)

	_, err = fixed(t, http.StatusOK, goodHeaders, `{"authToken":"6516861d89ebfff147bf2eb2b5153ae1"}`).Join(ctx, "a", "m")
	assert.Equal(t, KindSchema, KindOf(err), "%v", err)
}

func TestResponse_CheckErrorAndAllow(t *testing.T) {
	c := newClient(t)
	resp, err := c.Do(context.Background(), Request{Method: http.MethodDelete, Path: protocol.PathPlayers})
	require.NoError(t, err)
	_, err = resp.CheckError(http.StatusMethodNotAllowed, protocol.ErrInvalidMethod)
	require.NoError(t, err)
	require.NoError(t, resp.CheckAllow(http.MethodGet, http.MethodGet, http.MethodHead))

	_, err = resp.CheckError(http.StatusMethodNotAllowed, protocol.ErrBadRequest)
	assert.Equal(t, KindData, KindOf(err))
	assert.Error(t, resp.CheckAllow(http.MethodPost, http.MethodPost))
}

func TestResponse_CheckErrorRejectsUndocumentedCode(t *testing.T) {
	c := fixed(t, http.StatusBadRequest, goodHeaders, `{"code":"E_NOT_DEFINED","message":"nope"}`)
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: protocol.PathMaps})
	require.NoError(t, err)
	_, err = resp.CheckError(http.StatusBadRequest, "E_NOT_DEFINED")
	require.Error(t, err)
	assert.Equal(t, KindData, KindOf(err), "%v", err)
}

func TestClient_TickAndMoveWantEmptyObject(t *testing.T) {
	ctx := context.Background()
	const token = "6516861d89ebfff147bf2eb2b5153ae1"

	err := fixed(t, http.StatusOK, goodHeaders, `{"tick":1}`).Tick(ctx, 10)
	assert.Equal(t, KindSchema, KindOf(err), "%v", err)
	err = fixed(t, http.StatusOK, goodHeaders, `[]`).Tick(ctx, 10)
	assert.Equal(t, KindSchema, KindOf(err), "%v", err)
	err = fixed(t, http.StatusOK, goodHeaders, `{"ok":true}`).Move(ctx, token, model.DirLeft)
	assert.Equal(t, KindSchema, KindOf(err), "%v", err)

	assert.NoError(t, fixed(t, http.StatusOK, goodHeaders, `{}`).Tick(ctx, 10))
	assert.NoError(t, fixed(t, http.StatusOK, goodHeaders, `{}`).Move(ctx, token, model.DirLeft))
}

func TestValidateToken(t *testing.T) {
	assert.NoError(t, ValidateToken("6516861d89ebfff147bf2eb2b5153ae1"))
	assert.Error(t, ValidateToken("6516861d89ebfff147bf2eb2b5153ae"))
	assert.Error(t, ValidateToken("6516861d89ebfff147bf2eb2b5153aeg"))
}
