package suite

import (
	"context"
	"fmt"
	"net/http"
	"reflect"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/protocol"
	"roadtest.ai/internal/scenario"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/transport/httpapi"
)

// expectError sends req and checks it fails with status and code.
func expectError(ctx context.Context, c *httpapi.Client, req httpapi.Request, status int, code string) (*httpapi.Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := resp.CheckError(status, code); err != nil {
		return resp, err
	}
	return resp, nil
}

// expectMethods sends every method in methods to path and expects 405 with
// an Allow header drawn from allowed. An empty want skips the Allow check.
func expectMethods(ctx context.Context, c *httpapi.Client, path string, methods []string, want string, allowed ...string) error {
	for _, m := range methods {
		req := httpapi.Request{Method: m, Path: path, Header: http.Header{"Content-Type": {protocol.ContentTypeJSON}}}
		resp, err := expectError(ctx, c, req, http.StatusMethodNotAllowed, protocol.ErrInvalidMethod)
		if err != nil {
			return fmt.Errorf("%s %s: %w", m, path, err)
		}
		if want == "" {
			continue
		}
		if err := resp.CheckAllow(want, allowed...); err != nil {
			return fmt.Errorf("%s %s: %w", m, path, err)
		}
	}
	return nil
}

func mapChecks() []Check {
	return []Check{
		{Name: "maps/match", Reference: true, Run: checkMapsMatch},
	}
}

// checkMapsMatch compares the map catalogue and every map with the game
// config. The map endpoint never exposes dogSpeed.
func checkMapsMatch(ctx context.Context, e *Env) error {
	if e.Game == nil {
		return Skip("no game config")
	}
	ref := reference.New(*e.Game)
	want := ref.Maps()
	got, err := e.Client.ListMaps(ctx)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(got, want) {
		return fmt.Errorf("map list: got %v, want %v", got, want)
	}
	for _, info := range want {
		m, err := ref.Map(info.ID)
		if err != nil {
			return err
		}
		sut, err := e.Client.GetMap(ctx, info.ID)
		if err != nil {
			return fmt.Errorf("map %s: %w", info.ID, err)
		}
		if !reflect.DeepEqual(normalizeMap(sut), normalizeMap(m.WithoutSpeed())) {
			return fmt.Errorf("map %s differs from config", info.ID)
		}
	}
	return nil
}

func normalizeMap(m model.Map) model.Map {
	if m.Roads == nil {
		m.Roads = []model.Road{}
	}
	if m.Buildings == nil {
		m.Buildings = []model.Building{}
	}
	if m.Offices == nil {
		m.Offices = []model.Office{}
	}
	return m
}

func joinChecks() []Check {
	return []Check{
		{Name: "join/invalid-map", Run: func(ctx context.Context, e *Env) error {
			return joinExpect(ctx, e, map[string]any{"userName": "Harry Potter", "mapId": "  invalid  "},
				http.StatusNotFound, protocol.ErrMapNotFound)
		}},
		{Name: "join/empty-name", Run: func(ctx context.Context, e *Env) error {
			return joinExpect(ctx, e, map[string]any{"userName": "", "mapId": e.MapID},
				http.StatusBadRequest, protocol.ErrInvalidArgument)
		}},
		{Name: "join/missing-name", Run: func(ctx context.Context, e *Env) error {
			return joinExpect(ctx, e, map[string]any{"mapId": e.MapID},
				http.StatusBadRequest, protocol.ErrInvalidArgument)
		}},
		{Name: "join/missing-map", Run: func(ctx context.Context, e *Env) error {
			return joinExpect(ctx, e, map[string]any{"userName": "Harry Potter"},
				http.StatusBadRequest, protocol.ErrInvalidArgument)
		}},
		{Name: "join/missing-data", Run: func(ctx context.Context, e *Env) error {
			return joinExpect(ctx, e, map[string]any{}, http.StatusBadRequest, protocol.ErrInvalidArgument)
		}},
		{Name: "join/invalid-data", Run: func(ctx context.Context, e *Env) error {
			return joinExpect(ctx, e, map[string]any{"userName": "", "mapId": "   invalid   "},
				http.StatusBadRequest, protocol.ErrInvalidArgument)
		}},
		{Name: "join/invalid-verb", Run: func(ctx context.Context, e *Env) error {
			return expectMethods(ctx, e.Client, protocol.PathJoin,
				[]string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodDelete},
				http.MethodPost, http.MethodPost)
		}},
		{Name: "join/success", Run: checkJoinSuccess},
	}
}

func joinExpect(ctx context.Context, e *Env, body map[string]any, status int, code string) error {
	_, err := expectError(ctx, e.Client, httpapi.JSON(protocol.PathJoin, body), status, code)
	return err
}

// checkJoinSuccess joins ten players with random printable names. The
// client validates the token format and the integer id.
func checkJoinSuccess(ctx context.Context, e *Env) error {
	seen := map[int]bool{}
	for i := 0; i < 10; i++ {
		name := e.Gen.Name(100)
		id, err := e.Client.Join(ctx, name, e.MapID)
		if err != nil {
			return fmt.Errorf("join %q: %w", name, err)
		}
		if seen[id.PlayerID] {
			return fmt.Errorf("player id %d issued twice", id.PlayerID)
		}
		seen[id.PlayerID] = true
	}
	return nil
}

// unknownToken is well-formed but never issued.
const unknownToken = "6516861d89ebfff147bf2eb2b5153ae1"

func playerChecks() []Check {
	players := func(auth string) httpapi.Request {
		req := httpapi.Request{Method: http.MethodGet, Path: protocol.PathPlayers, Header: http.Header{
			"Content-Type": {protocol.ContentTypeJSON},
		}}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		return req
	}
	return []Check{
		{Name: "players/missing-token", Run: func(ctx context.Context, e *Env) error {
			_, err := expectError(ctx, e.Client, players(""), http.StatusUnauthorized, protocol.ErrInvalidToken)
			return err
		}},
		{Name: "players/invalid-token", Run: func(ctx context.Context, e *Env) error {
			_, err := expectError(ctx, e.Client, players("Bearer"), http.StatusUnauthorized, protocol.ErrInvalidToken)
			return err
		}},
		{Name: "players/unknown-token", Run: func(ctx context.Context, e *Env) error {
			_, err := expectError(ctx, e.Client, players("Bearer "+unknownToken), http.StatusUnauthorized, protocol.ErrUnknownToken)
			return err
		}},
		{Name: "players/invalid-verb", Run: func(ctx context.Context, e *Env) error {
			for _, m := range []string{http.MethodOptions, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
				req := httpapi.Request{Method: m, Path: protocol.PathPlayers}.Bearer(unknownToken)
				resp, err := expectError(ctx, e.Client, req, http.StatusMethodNotAllowed, protocol.ErrInvalidMethod)
				if err != nil {
					return fmt.Errorf("%s: %w", m, err)
				}
				if err := resp.CheckAllow(http.MethodGet, http.MethodGet, http.MethodHead); err != nil {
					return fmt.Errorf("%s: %w", m, err)
				}
			}
			return nil
		}},
		{Name: "players/success", Run: checkPlayersSuccess},
	}
}

// checkPlayersSuccess joins two players on one map; both see the same
// roster, over GET and over HEAD.
func checkPlayersSuccess(ctx context.Context, e *Env) error {
	a, err := e.Client.Join(ctx, "User1", e.MapID)
	if err != nil {
		return err
	}
	b, err := e.Client.Join(ctx, "User2", e.MapID)
	if err != nil {
		return err
	}
	ra, err := e.Client.Players(ctx, a.Token)
	if err != nil {
		return fmt.Errorf("players as %s: %w", a.Name, err)
	}
	rb, err := e.Client.Players(ctx, b.Token)
	if err != nil {
		return fmt.Errorf("players as %s: %w", b.Name, err)
	}
	if !reflect.DeepEqual(ra, rb) {
		return fmt.Errorf("rosters differ: %v vs %v", ra, rb)
	}
	for _, id := range []model.Identity{a, b} {
		if ra[model.PlayerKey(id.PlayerID)] != id.Name {
			return fmt.Errorf("roster %v lacks %d=%q", ra, id.PlayerID, id.Name)
		}
		if err := e.Client.PlayersHead(ctx, id.Token); err != nil {
			return fmt.Errorf("HEAD players as %s: %w", id.Name, err)
		}
	}
	return nil
}

func tickChecks() []Check {
	return []Check{
		{Name: "tick/missing-delta", Run: func(ctx context.Context, e *Env) error {
			req := httpapi.Request{Method: http.MethodPost, Path: protocol.PathTick, Header: http.Header{
				"Content-Type": {protocol.ContentTypeJSON},
			}}
			_, err := expectError(ctx, e.Client, req, http.StatusBadRequest, protocol.ErrInvalidArgument)
			return err
		}},
		{Name: "tick/invalid-delta", Run: func(ctx context.Context, e *Env) error {
			for _, delta := range []any{protocol.Float(0), "0", true} {
				req := httpapi.JSON(protocol.PathTick, map[string]any{"timeDelta": delta})
				if _, err := expectError(ctx, e.Client, req, http.StatusBadRequest, protocol.ErrInvalidArgument); err != nil {
					return fmt.Errorf("timeDelta %s: %w", req.Body, err)
				}
			}
			return nil
		}},
		{Name: "tick/invalid-verb", Run: func(ctx context.Context, e *Env) error {
			return expectMethods(ctx, e.Client, protocol.PathTick,
				[]string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodDelete}, "")
		}},
		{Name: "tick/success", Run: func(ctx context.Context, e *Env) error {
			for i := 0; i < 10; i++ {
				delta := e.Gen.Delta(scenario.AnyTick)
				if err := e.Client.Tick(ctx, delta); err != nil {
					return fmt.Errorf("tick %d: %w", delta, err)
				}
			}
			return nil
		}},
	}
}
