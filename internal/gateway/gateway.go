// Package gateway terminates the realtime websocket protocol: it
// authenticates connections, decodes client events and routes them to the
// game sessions.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/sdubid/chessbit/internal/auth"
	"github.com/sdubid/chessbit/internal/obslog"
	"github.com/sdubid/chessbit/internal/rules"
	"github.com/sdubid/chessbit/internal/session"
	"github.com/sdubid/chessbit/pkg/wire"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8192
)

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

type Options struct {
	AllowedOrigins []string
	Messages       session.Messages
	PingInterval   time.Duration
}

type Gateway struct {
	auth     Authenticator
	registry *session.Registry
	hub      *Hub
	msgs     session.Messages
	origins  []string
	ping     time.Duration
}

func New(a Authenticator, reg *session.Registry, hub *Hub, opts Options) *Gateway {
	ping := opts.PingInterval
	if ping <= 0 {
		ping = pingPeriod
	}
	return &Gateway{
		auth:     a,
		registry: reg,
		hub:      hub,
		msgs:     opts.Messages,
		origins:  originPatterns(opts.AllowedOrigins),
		ping:     ping,
	}
}

// originPatterns turns configured origins into host patterns for websocket.Accept.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		o = strings.TrimRight(o, "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := g.auth.Authenticate(auth.FromRequest(r))
	if err != nil {
		obslog.L().Warn("ws_auth_rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, errorBody{Msg: "Token is not valid"})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.origins})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("user_id", userID), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := g.hub.register(session.UserID(userID))
	obslog.L().Info("ws_connected", zap.String("conn", string(c.id)), zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		g.hub.unregister(c)
		g.prune(c)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		obslog.L().Info("ws_disconnected", zap.String("conn", string(c.id)), zap.String("user_id", userID))
	}()

	go g.writeLoop(ctx, cancel, conn, c)
	g.readLoop(ctx, conn, c)
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				obslog.L().Debug("ws_read_error", zap.String("conn", string(c.id)), zap.Error(err))
			}
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil || strings.TrimSpace(env.Event) == "" {
			g.reply(c, wire.ErrorEvent(wire.CodeBadRequest, g.text("request.bad", "frame", "Malformed frame")))
			continue
		}
		g.dispatch(ctx, c, env)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(g.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			cancel()
			return
		case ev := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeWait)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				obslog.L().Debug("ws_write_error", zap.String("conn", string(c.id)), zap.Error(err))
				cancel()
				return
			}
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				cancel()
				return
			}
		}
	}
}

// dispatch handles one client event. A failure here is reported to the
// sender and never ends the connection.
func (g *Gateway) dispatch(ctx context.Context, c *client, env wire.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			obslog.L().Error("ws_dispatch_panic",
				zap.String("conn", string(c.id)),
				zap.String("event", env.Event),
				zap.Any("panic", rec))
			g.reply(c, wire.ErrorEvent(wire.CodeInternal, g.text("internal", env.Event, "Internal error")))
		}
	}()

	switch env.Event {
	case wire.EventJoin:
		g.handleJoin(ctx, c, env.Data)
	case wire.EventMove:
		g.handleMove(ctx, c, env.Data)
	default:
		g.reply(c, wire.ErrorEvent(wire.CodeUnknownEvent, g.text("request.unknown_event", env.Event, "Unknown event")))
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *client, data json.RawMessage) {
	var req wire.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.GameID) == "" {
		g.reply(c, wire.ErrorEvent(wire.CodeBadRequest, g.text("request.bad", wire.EventJoin, "Malformed join payload")))
		return
	}
	gameID := strings.TrimSpace(req.GameID)
	s, err := g.registry.GetOrCreate(ctx, gameID)
	if err != nil {
		obslog.L().Warn("ws_join_error", zap.String("game_id", gameID), zap.String("user_id", string(c.userID)), zap.Error(err))
		g.reply(c, wire.ErrorEvent(wire.CodeUnavailable, g.gameText("game.unavailable", gameID, "Game is temporarily unavailable")))
		return
	}
	if err := s.Join(ctx, c.userID, c.id, req.Address); err != nil {
		g.reply(c, wire.ErrorEvent(wire.CodeBadRequest, g.text("request.bad", wire.EventJoin, "Malformed join payload")))
		return
	}
	c.games[gameID] = struct{}{}
	c.setState(StateBound)
}

func (g *Gateway) handleMove(ctx context.Context, c *client, data json.RawMessage) {
	var req wire.MoveRequest
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.GameID) == "" {
		g.reply(c, wire.ErrorEvent(wire.CodeBadRequest, g.text("request.bad", wire.EventMove, "Malformed move payload")))
		return
	}
	gameID := strings.TrimSpace(req.GameID)
	s, err := g.registry.Get(gameID)
	if err != nil {
		obslog.L().Info("ws_move_unknown_game", zap.String("game_id", gameID), zap.String("user_id", string(c.userID)))
		g.reply(c, wire.ErrorEvent(wire.CodeUnknownGame, g.gameText("game.unknown", gameID, "Game not found")))
		return
	}
	mv := rules.Move{From: req.Move.From, To: req.Move.To, Promotion: req.Move.Promotion}
	if err := s.Move(ctx, c.userID, c.id, mv); err != nil && !session.IsRejection(err) {
		obslog.L().Warn("ws_move_error", zap.String("game_id", gameID), zap.Error(err))
	}
}

// prune removes the closing connection from every session it joined.
func (g *Gateway) prune(c *client) {
	for gameID := range c.games {
		if s, err := g.registry.Get(gameID); err == nil {
			s.Leave(c.id)
		}
	}
}

func (g *Gateway) reply(c *client, ev wire.Event) {
	if err := g.hub.Emit(c.id, ev); err != nil && !errors.Is(err, ErrConnGone) {
		obslog.L().Debug("ws_reply_dropped", zap.String("conn", string(c.id)), zap.Error(err))
	}
}

func (g *Gateway) text(key, event, fallback string) string {
	if g.msgs == nil {
		return fallback
	}
	return g.msgs.Text(key, map[string]string{"Event": event}, fallback)
}

func (g *Gateway) gameText(key, gameID, fallback string) string {
	if g.msgs == nil {
		return fallback
	}
	return g.msgs.Text(key, map[string]string{"GameID": gameID}, fallback)
}

type errorBody struct {
	Msg string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_error", zap.Error(fmt.Errorf("encode response: %w", err)))
	}
}
