// Package testserver serves the reference model over the game server's
// HTTP API. It is the SUT double behind the repo's own tests and
// cmd/refserver.
package testserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/protocol"
	"roadtest.ai/internal/sim/reference"
)

type Server struct {
	game   *reference.Game
	logger *log.Logger
	engine *gin.Engine

	// manualTick is false when the server advances time itself; the tick
	// endpoint is then rejected.
	manualTick bool
}

type Option func(*Server)

// WithAutoTick disables the tick endpoint. The caller drives Game.Tick.
func WithAutoTick() Option { return func(s *Server) { s.manualTick = false } }

func New(game *reference.Game, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.New(discard{}, "", 0)
	}
	s := &Server{game: game, logger: logger, manualTick: true}
	for _, o := range opts {
		o(s)
	}

	e := gin.New()
	e.Use(gin.Recovery(), s.accessLog())

	api := e.Group("/" + protocol.PathAPI)
	api.Any("/maps", only(s.listMaps, http.MethodGet, http.MethodHead))
	api.Any("/maps/:id", only(s.getMap, http.MethodGet, http.MethodHead))
	api.Any("/game/join", only(s.join, http.MethodPost))
	api.Any("/game/players", only(s.withToken(s.players), http.MethodGet, http.MethodHead))
	api.Any("/game/state", only(s.withToken(s.state), http.MethodGet, http.MethodHead))
	api.Any("/game/player/action", only(s.withToken(s.action), http.MethodPost))
	api.Any("/game/tick", only(s.tick, http.MethodPost))
	api.Any("/game/records", only(s.records, http.MethodGet, http.MethodHead))
	e.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusBadRequest, protocol.ErrBadRequest, "Bad request")
	})

	s.engine = e
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Printf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// only rejects every method outside allowed with 405 and an Allow header.
func only(h gin.HandlerFunc, allowed ...string) gin.HandlerFunc {
	allow := strings.Join(allowed, ", ")
	return func(c *gin.Context) {
		for _, m := range allowed {
			if c.Request.Method == m {
				h(c)
				return
			}
		}
		c.Header("Allow", allow)
		writeError(c, http.StatusMethodNotAllowed, protocol.ErrInvalidMethod, "Only "+allow+" method is expected")
	}
}

func writeJSON(c *gin.Context, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"code":"internalError","message":"encode failed"}`)
	}
	c.Header("Cache-Control", protocol.CacheNoCache)
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", protocol.ContentTypeJSON)
		c.Header("Content-Length", "0")
		c.Status(status)
		return
	}
	c.Header("Content-Length", strconv.Itoa(len(b)))
	c.Data(status, protocol.ContentTypeJSON, b)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, protocol.ErrorBody{Code: code, Message: msg})
}

type tokenHandler func(c *gin.Context, token string)

// withToken resolves the bearer token. A malformed header is invalidToken;
// the reference decides whether a well-formed token is known.
func (s *Server) withToken(h tokenHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || !validToken(token) {
			writeError(c, http.StatusUnauthorized, protocol.ErrInvalidToken, "Authorization header is missing")
			return
		}
		h(c, token)
	}
}

func validToken(t string) bool {
	if len(t) != 32 {
		return false
	}
	for _, r := range t {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func newToken() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }

func (s *Server) gameError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reference.ErrUnknownToken):
		writeError(c, http.StatusUnauthorized, protocol.ErrUnknownToken, "Player token has not been found")
	case errors.Is(err, reference.ErrMapNotFound):
		writeError(c, http.StatusNotFound, protocol.ErrMapNotFound, "Map not found")
	case errors.Is(err, reference.ErrInvalidArgument):
		writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, err.Error())
	default:
		s.logger.Printf("unexpected: %v", err)
		writeError(c, http.StatusInternalServerError, "internalError", err.Error())
	}
}

func (s *Server) listMaps(c *gin.Context) {
	writeJSON(c, http.StatusOK, s.game.Maps())
}

func (s *Server) getMap(c *gin.Context) {
	m, err := s.game.Map(c.Param("id"))
	if err != nil {
		s.gameError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m.WithoutSpeed())
}

// object decodes the request body as a JSON object, or writes a 400.
func object(c *gin.Context) (map[string]any, bool) {
	b, err := c.GetRawData()
	if err == nil {
		var v any
		if v, err = protocol.DecodeAny(b); err == nil {
			if obj, ok := v.(map[string]any); ok {
				return obj, true
			}
		}
	}
	writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, "Request body is not a JSON object")
	return nil, false
}

func (s *Server) join(c *gin.Context) {
	obj, ok := object(c)
	if !ok {
		return
	}
	name, okName := obj["userName"].(string)
	mapID, okMap := obj["mapId"].(string)
	if !okName || !okMap || name == "" {
		writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, "Invalid name")
		return
	}
	id, err := s.game.Admit(name, mapID, newToken())
	if err != nil {
		s.gameError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, protocol.JoinResponse{AuthToken: id.Token, PlayerID: id.PlayerID})
}

func (s *Server) players(c *gin.Context, token string) {
	ps, err := s.game.Players(token)
	if err != nil {
		s.gameError(c, err)
		return
	}
	out := make(map[string]protocol.PlayerEntry, len(ps))
	for id, name := range ps {
		out[id] = protocol.PlayerEntry{Name: name}
	}
	writeJSON(c, http.StatusOK, out)
}

func (s *Server) state(c *gin.Context, token string) {
	st, err := s.game.State(token)
	if err != nil {
		s.gameError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, protocol.StateFrom(st))
}

func (s *Server) action(c *gin.Context, token string) {
	obj, ok := object(c)
	if !ok {
		return
	}
	raw, ok := obj["move"].(string)
	if !ok {
		writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, "Failed to parse action")
		return
	}
	dir, err := model.ParseDirection(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, "Failed to parse action")
		return
	}
	if err := s.game.Move(token, dir); err != nil {
		s.gameError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, struct{}{})
}

func (s *Server) tick(c *gin.Context) {
	if !s.manualTick {
		writeError(c, http.StatusBadRequest, protocol.ErrBadRequest, "Invalid endpoint")
		return
	}
	obj, ok := object(c)
	if !ok {
		return
	}
	raw := obj["timeDelta"]
	if protocol.KindOf(raw) != protocol.KindInt {
		writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, "Failed to parse tick request JSON")
		return
	}
	delta, err := raw.(json.Number).Int64()
	if err != nil || delta < 0 {
		writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, "Failed to parse tick request JSON")
		return
	}
	if err := s.game.Tick(delta); err != nil {
		s.gameError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, struct{}{})
}

func (s *Server) records(c *gin.Context) {
	params := c.Request.URL.Query()
	if len(params) == 0 {
		// Pagination may also arrive as a form body on the GET.
		if b, err := c.GetRawData(); err == nil && len(b) > 0 {
			form, err := url.ParseQuery(string(b))
			if err != nil {
				writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, "Invalid pagination")
				return
			}
			params = form
		}
	}
	start, err1 := paramInt(params, protocol.ParamStart, 0)
	maxItems, err2 := paramInt(params, protocol.ParamMaxItems, model.MaxRecordsPage)
	if err1 != nil || err2 != nil {
		writeError(c, http.StatusBadRequest, protocol.ErrInvalidArgument, "Invalid pagination")
		return
	}
	recs, err := s.game.Records(start, maxItems)
	if err != nil {
		s.gameError(c, err)
		return
	}
	out := make([]protocol.RecordMsg, 0, len(recs))
	for _, r := range recs {
		out = append(out, protocol.RecordFrom(r))
	}
	writeJSON(c, http.StatusOK, out)
}

func paramInt(params url.Values, key string, def int) (int, error) {
	if !params.Has(key) {
		return def, nil
	}
	return strconv.Atoi(params.Get(key))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
