// Package httpapi is the typed client for the game server's HTTP API. Every
// call validates the full response contract before handing back typed data.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/protocol"
)

type Client struct {
	base *url.URL
	hc   *http.Client

	recordsInBody bool
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. The caller is
// responsible for disabling transparent compression on it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeout bounds each request. Zero means no bound beyond the context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithRecordsInBody sends records pagination as a form-encoded GET body,
// the way some servers of this API read it.
func WithRecordsInBody() Option {
	return func(c *Client) { c.recordsInBody = true }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: unsupported scheme", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		base: u,
		// Compression off: Content-Length must describe the bytes on the wire.
		hc: &http.Client{Transport: &http.Transport{DisableCompression: true}},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.base.String() }

// Request is a raw request for boundary checks that need arbitrary verbs,
// headers or bodies.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Do sends a raw request and reads the whole response. Only network-level
// failures are returned as errors; status and body are left to the caller.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ref := &url.URL{Path: req.Path}
	if len(req.Query) > 0 {
		ref.RawQuery = req.Query.Encode()
	}
	target := c.base.ResolveReference(ref)

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Method: req.Method, Path: req.Path, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	resp, err := c.hc.Do(hr)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Method: req.Method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Method: req.Method, Path: req.Path, Status: resp.StatusCode, Err: err}
	}
	return &Response{
		Method: req.Method,
		Path:   req.Path,
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   b,
	}, nil
}

// JSON builds a POST request with a JSON body.
func JSON(path string, v any) Request {
	b, _ := json.Marshal(v)
	return Request{
		Method: http.MethodPost,
		Path:   path,
		Header: http.Header{"Content-Type": {protocol.ContentTypeJSON}},
		Body:   b,
	}
}

// Bearer adds the authorization header for token.
func (r Request) Bearer(token string) Request {
	if r.Header == nil {
		r.Header = http.Header{}
	} else {
		r.Header = r.Header.Clone()
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func (c *Client) ok(ctx context.Context, req Request) (*Response, any, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	v, err := resp.CheckOK()
	if err != nil {
		return resp, nil, err
	}
	return resp, v, nil
}

func (c *Client) ListMaps(ctx context.Context) ([]model.MapInfo, error) {
	resp, v, err := c.ok(ctx, Request{Method: http.MethodGet, Path: protocol.PathMaps})
	if err != nil {
		return nil, err
	}
	if err := resp.schema(protocol.SchemaMaps, v); err != nil {
		return nil, err
	}
	var out []model.MapInfo
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &Error{Kind: KindEncoding, Method: resp.Method, Path: resp.Path, Err: err}
	}
	return out, nil
}

func (c *Client) GetMap(ctx context.Context, id string) (model.Map, error) {
	resp, v, err := c.ok(ctx, Request{Method: http.MethodGet, Path: protocol.PathMap(id)})
	if err != nil {
		return model.Map{}, err
	}
	return resp.validateMap(v)
}

func (c *Client) Join(ctx context.Context, name, mapID string) (model.Identity, error) {
	resp, v, err := c.ok(ctx, JSON(protocol.PathJoin, protocol.JoinRequest{UserName: name, MapID: mapID}))
	if err != nil {
		return model.Identity{}, err
	}
	if err := resp.schema(protocol.SchemaJoin, v); err != nil {
		return model.Identity{}, err
	}
	obj := v.(map[string]any)
	if err := resp.kind("Player id", obj["playerId"], protocol.KindInt); err != nil {
		return model.Identity{}, err
	}
	token := obj["authToken"].(string)
	if err := ValidateToken(token); err != nil {
		e := resp.fail(KindData, "Token", "32 hex digits", token)
		e.Err = err
		return model.Identity{}, e
	}
	id, err := obj["playerId"].(json.Number).Int64()
	if err != nil {
		return model.Identity{}, resp.fail(KindData, "Player id", "int", obj["playerId"])
	}
	return model.Identity{Token: token, PlayerID: int(id), Name: name, MapID: mapID}, nil
}

func (c *Client) State(ctx context.Context, token string) (model.SessionState, error) {
	resp, v, err := c.ok(ctx, Request{Method: http.MethodGet, Path: protocol.PathState}.Bearer(token))
	if err != nil {
		return model.SessionState{}, err
	}
	return resp.validateState(v)
}

// PlayerState extracts one player from the session state. A missing id is a
// data error.
func (c *Client) PlayerState(ctx context.Context, token string, playerID int) (model.PlayerState, error) {
	st, err := c.State(ctx, token)
	if err != nil {
		return model.PlayerState{}, err
	}
	p, ok := st.Player(playerID)
	if !ok {
		return model.PlayerState{}, &Error{
			Kind:     KindData,
			Method:   http.MethodGet,
			Path:     protocol.PathState,
			Object:   "Player state",
			Expected: playerID,
			Given:    st.IDs(),
		}
	}
	return p, nil
}

// Players returns player id to name for the caller's session.
func (c *Client) Players(ctx context.Context, token string) (map[string]string, error) {
	resp, v, err := c.ok(ctx, Request{Method: http.MethodGet, Path: protocol.PathPlayers}.Bearer(token))
	if err != nil {
		return nil, err
	}
	if err := resp.schema(protocol.SchemaPlayers, v); err != nil {
		return nil, err
	}
	out := map[string]string{}
	for id, e := range v.(map[string]any) {
		out[id] = e.(map[string]any)["name"].(string)
	}
	return out, nil
}

// PlayersHead issues HEAD on the players endpoint and checks the envelope.
func (c *Client) PlayersHead(ctx context.Context, token string) error {
	_, _, err := c.ok(ctx, Request{Method: http.MethodHead, Path: protocol.PathPlayers}.Bearer(token))
	return err
}

func (c *Client) Move(ctx context.Context, token string, dir model.Direction) error {
	resp, v, err := c.ok(ctx, JSON(protocol.PathAction, protocol.ActionRequest{Move: string(dir)}).Bearer(token))
	if err != nil {
		return err
	}
	return resp.schema(protocol.SchemaEmpty, v)
}

func (c *Client) Tick(ctx context.Context, deltaMs int64) error {
	resp, v, err := c.ok(ctx, JSON(protocol.PathTick, protocol.TickRequest{TimeDelta: deltaMs}))
	if err != nil {
		return err
	}
	return resp.schema(protocol.SchemaEmpty, v)
}

// Records fetches one leaderboard page. Negative start or maxItems leave the
// parameter out. Parameters go in the query string unless the client was
// built WithRecordsInBody.
func (c *Client) Records(ctx context.Context, start, maxItems int) ([]model.Record, error) {
	q := url.Values{}
	if start >= 0 {
		q.Set(protocol.ParamStart, strconv.Itoa(start))
	}
	if maxItems >= 0 {
		q.Set(protocol.ParamMaxItems, strconv.Itoa(maxItems))
	}
	req := Request{Method: http.MethodGet, Path: protocol.PathRecords, Query: q}
	if c.recordsInBody && len(q) > 0 {
		req.Query = nil
		req.Header = http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
		req.Body = []byte(q.Encode())
	}
	resp, v, err := c.ok(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.schema(protocol.SchemaRecords, v); err != nil {
		return nil, err
	}
	items := v.([]any)
	out := make([]model.Record, 0, len(items))
	for _, raw := range items {
		obj := raw.(map[string]any)
		var r model.Record
		r.Name = obj["name"].(string)
		r.Score, _ = protocol.NumberValue(obj["score"])
		r.PlayTime, _ = protocol.NumberValue(obj["playTime"])
		out = append(out, r)
	}
	return out, nil
}
