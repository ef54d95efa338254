package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/matchmaking"
	"github.com/sdubid/chessbit/internal/obslog"
	"github.com/sdubid/chessbit/internal/rules"
	"github.com/sdubid/chessbit/pkg/wire"
)

type delivery struct {
	conn    ConnectionID
	address string
}

// Session is one game. All mutations are serialized by mu; events are
// emitted while holding it so every member observes them in order.
type Session struct {
	id     string
	deps   Deps
	seeder Seeder
	wg     *sync.WaitGroup

	// writeMu orders background address writes
	writeMu sync.Mutex

	mu        sync.Mutex
	position  rules.Position
	players   map[UserID]rules.Color
	sockets   map[UserID]ConnectionID
	addresses map[UserID]string
	members   map[ConnectionID]UserID
	delivered map[UserID]delivery
	finished  bool
	outcome   *Outcome
	createdAt time.Time
}

func newSession(id string, seed map[UserID]rules.Color, deps Deps, seeder Seeder, wg *sync.WaitGroup) *Session {
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	return &Session{
		id:        id,
		deps:      deps,
		seeder:    seeder,
		wg:        wg,
		position:  deps.Oracle.InitialPosition(),
		players:   sanitizeSeed(seed),
		sockets:   make(map[UserID]ConnectionID),
		addresses: make(map[UserID]string),
		members:   make(map[ConnectionID]UserID),
		delivered: make(map[UserID]delivery),
		createdAt: time.Now(),
	}
}

// sanitizeSeed keeps at most one user per color.
func sanitizeSeed(seed map[UserID]rules.Color) map[UserID]rules.Color {
	out := make(map[UserID]rules.Color, 2)
	taken := make(map[rules.Color]bool, 2)
	for u, c := range seed {
		if u == "" || !c.Valid() || taken[c] {
			continue
		}
		taken[c] = true
		out[u] = c
	}
	return out
}

func (s *Session) ID() string { return s.id }

// Seeded reports whether the session has any color assignment.
func (s *Session) Seeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players) > 0
}

// Join binds conn as u's live connection and sends it the current state.
// A non-empty address is recorded and persisted in the background; without
// one the stored address is used. A user without a seat is seated from the
// ledger when the game took its second player after the session was created.
func (s *Session) Join(ctx context.Context, u UserID, conn ConnectionID, address string) error {
	if u == "" || conn == "" {
		return ErrInvalidArgs
	}
	address = strings.TrimSpace(address)

	needSeat, needAddr := s.missing(u, address)
	var rec *matchmaking.OpenGame
	if needSeat {
		rec = s.lookupSeats(ctx, u)
	}
	var stored string
	if needAddr {
		stored = s.storedAddress(ctx, u)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec != nil {
		s.seatLocked(rec)
	}

	if prev, ok := s.sockets[u]; ok && prev != conn {
		obslog.L().Info("session_rebind",
			zap.String("game_id", s.id),
			zap.String("user_id", string(u)),
			zap.String("prev_conn", string(prev)),
			zap.String("conn", string(conn)))
	}
	s.sockets[u] = conn
	s.members[conn] = u

	switch {
	case address != "" && address != s.addresses[u]:
		s.addresses[u] = address
		s.persistAddress(ctx, u, address)
	case address == "" && s.addresses[u] == "" && stored != "":
		s.addresses[u] = stored
	}

	s.emit(conn, wire.GameStateEvent(s.deps.Oracle.Serialize(s.position)))
	s.emit(conn, wire.PlayerColorEvent(string(s.players[u])))
	if len(s.players) == 0 {
		s.emit(conn, wire.ErrorEvent(wire.CodeUnseededGame,
			s.text("game.unseeded", "Game has no matchmaking record")))
	}
	if s.finished && s.outcome != nil {
		s.emit(conn, gameOverEvent(*s.outcome))
	}

	s.exchangeIdentities(u)

	obslog.L().Info("session_join",
		zap.String("game_id", s.id),
		zap.String("user_id", string(u)),
		zap.String("conn", string(conn)),
		zap.String("color", string(s.players[u])))
	return nil
}

// missing reports whether Join has to consult the ledger or the address store.
func (s *Session) missing(u UserID, address string) (seat, addr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seated := s.players[u]
	seat = !seated && len(s.players) < 2 && s.seeder != nil
	addr = address == "" && s.addresses[u] == "" && s.deps.Addresses != nil
	return seat, addr
}

func (s *Session) lookupSeats(ctx context.Context, u UserID) *matchmaking.OpenGame {
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout())
	defer cancel()
	rec, err := s.seeder.Lookup(ctx, s.id)
	if err != nil {
		obslog.L().Warn("session_seat_lookup_error",
			zap.String("game_id", s.id),
			zap.String("user_id", string(u)),
			zap.Error(err))
		return nil
	}
	return rec
}

// seatLocked binds colors recorded in the ledger that are still free.
func (s *Session) seatLocked(rec *matchmaking.OpenGame) {
	taken := make(map[rules.Color]bool, 2)
	for _, c := range s.players {
		taken[c] = true
	}
	for user, c := range rec.Colors() {
		uid := UserID(user)
		if _, ok := s.players[uid]; ok || taken[c] {
			continue
		}
		s.players[uid] = c
		taken[c] = true
		obslog.L().Info("session_seat",
			zap.String("game_id", s.id),
			zap.String("user_id", user),
			zap.String("color", string(c)))
	}
}

// Move validates and applies mv for u. Rejections are reported to conn only.
func (s *Session) Move(_ context.Context, u UserID, conn ConnectionID, mv rules.Move) error {
	outcome, err := s.move(u, conn, mv)
	if outcome != nil && s.deps.Finisher != nil {
		s.deps.Finisher.GameOver(*outcome)
	}
	return err
}

func (s *Session) move(u UserID, conn ConnectionID, mv rules.Move) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		s.emit(conn, wire.InvalidMoveEvent(s.text("move.game_over", "Game is over")))
		return nil, ErrGameOver
	}
	color, seated := s.players[u]
	turn := s.deps.Oracle.Turn(s.position)
	if !seated || color != turn {
		s.emit(conn, wire.InvalidMoveEvent(s.text("move.not_your_turn", "Not your turn")))
		obslog.L().Debug("session_turn_violation",
			zap.String("game_id", s.id),
			zap.String("user_id", string(u)),
			zap.String("color", string(color)),
			zap.String("turn", string(turn)))
		return nil, ErrTurnViolation
	}

	next, err := s.deps.Oracle.ApplyMove(s.position, mv)
	if err != nil {
		s.emit(conn, wire.InvalidMoveEvent(s.text("move.invalid", "Invalid move")))
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	s.position = next
	s.broadcast(wire.GameStateEvent(s.deps.Oracle.Serialize(s.position)))

	var outcome *Outcome
	if s.deps.Oracle.IsGameOver(s.position) {
		outcome = s.finishLocked()
		s.broadcast(gameOverEvent(*outcome))
	}

	s.exchangeIdentities(u)
	return outcome, nil
}

func (s *Session) finishLocked() *Outcome {
	o := Outcome{
		GameID:   s.id,
		Result:   ResultDraw,
		Method:   s.deps.Oracle.Method(s.position),
		FEN:      s.deps.Oracle.Serialize(s.position),
		MovesUCI: s.position.MovesUCI(),
		MovesSAN: s.position.MovesSAN(),
		EndedAt:  time.Now().UTC(),
	}
	for u, c := range s.players {
		if c == rules.White {
			o.White = u
		} else {
			o.Black = u
		}
	}
	if s.deps.Oracle.IsCheckmate(s.position) {
		// the side to move is the side that got mated
		o.WinnerColor = s.deps.Oracle.Turn(s.position).Opponent()
		o.Result = ResultWhiteWins
		o.Winner = o.White
		if o.WinnerColor == rules.Black {
			o.Result = ResultBlackWins
			o.Winner = o.Black
		}
		winner := o.Winner
		o.Resolve = func() (string, bool) { return s.resolveAddress(winner) }
	}
	s.finished = true
	s.outcome = &o

	obslog.L().Info("session_game_over",
		zap.String("game_id", s.id),
		zap.String("result", o.Result),
		zap.String("method", o.Method),
		zap.String("winner_id", string(o.Winner)))
	return &o
}

// AddressOf returns u's wallet address if the session knows it.
func (s *Session) AddressOf(u UserID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.addresses[u]
	return addr, addr != ""
}

// resolveAddress is AddressOf with a fallback to the address store.
func (s *Session) resolveAddress(u UserID) (string, bool) {
	if addr, ok := s.AddressOf(u); ok {
		return addr, true
	}
	addr := s.storedAddress(context.Background(), u)
	return addr, addr != ""
}

// Leave drops conn from the session. The user's socket binding is removed
// only when it still points at conn.
func (s *Session) Leave(conn ConnectionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.members[conn]
	if !ok {
		return false
	}
	delete(s.members, conn)
	if s.sockets[u] == conn {
		delete(s.sockets, u)
	}
	if d, ok := s.delivered[u]; ok && d.conn == conn {
		delete(s.delivered, u)
	}
	obslog.L().Debug("session_leave",
		zap.String("game_id", s.id),
		zap.String("user_id", string(u)),
		zap.String("conn", string(conn)))
	return true
}

// exchangeIdentities sends each seated player the opponent's address once
// per bound connection, starting with first.
func (s *Session) exchangeIdentities(first UserID) {
	targets := make([]UserID, 0, 2)
	if _, ok := s.players[first]; ok {
		targets = append(targets, first)
	}
	for u := range s.players {
		if u != first {
			targets = append(targets, u)
		}
	}
	for _, target := range targets {
		opp, ok := s.opponentOf(target)
		if !ok {
			continue
		}
		addr := s.addresses[opp]
		if addr == "" {
			continue
		}
		conn, ok := s.sockets[target]
		if !ok {
			continue
		}
		if d := s.delivered[target]; d.conn == conn && d.address == addr {
			continue
		}
		if err := s.deps.Emitter.Emit(conn, wire.OpponentAddressEvent(addr)); err != nil {
			s.logDrop(conn, wire.EventOpponentAddress, err)
			continue
		}
		s.delivered[target] = delivery{conn: conn, address: addr}
	}
}

func (s *Session) opponentOf(u UserID) (UserID, bool) {
	color, ok := s.players[u]
	if !ok {
		return "", false
	}
	for other, c := range s.players {
		if other != u && c == color.Opponent() {
			return other, true
		}
	}
	return "", false
}

func (s *Session) broadcast(ev wire.Event) {
	for conn := range s.members {
		s.emit(conn, ev)
	}
}

func (s *Session) emit(conn ConnectionID, ev wire.Event) {
	if err := s.deps.Emitter.Emit(conn, ev); err != nil {
		s.logDrop(conn, ev.Name, err)
	}
}

func (s *Session) logDrop(conn ConnectionID, event string, err error) {
	obslog.L().Debug("session_emit_dropped",
		zap.String("game_id", s.id),
		zap.String("conn", string(conn)),
		zap.String("event", event),
		zap.Error(err))
}

func (s *Session) text(key, fallback string) string {
	if s.deps.Messages == nil {
		return fallback
	}
	return s.deps.Messages.Text(key, map[string]string{"GameID": s.id}, fallback)
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		GameID:    s.id,
		FEN:       s.deps.Oracle.Serialize(s.position),
		Turn:      s.deps.Oracle.Turn(s.position),
		Players:   make(map[UserID]rules.Color, len(s.players)),
		Sockets:   make(map[UserID]ConnectionID, len(s.sockets)),
		Addresses: make(map[UserID]string, len(s.addresses)),
		Members:   make(map[ConnectionID]UserID, len(s.members)),
		MovesUCI:  s.position.MovesUCI(),
		Finished:  s.finished,
		CreatedAt: s.createdAt,
	}
	for k, v := range s.players {
		snap.Players[k] = v
	}
	for k, v := range s.sockets {
		snap.Sockets[k] = v
	}
	for k, v := range s.addresses {
		snap.Addresses[k] = v
	}
	for k, v := range s.members {
		snap.Members[k] = v
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

func gameOverEvent(o Outcome) wire.Event {
	return wire.GameOverEvent(o.Result, o.Method, string(o.WinnerColor))
}

// IsRejection reports whether err is a move rejection already reported to the client.
func IsRejection(err error) bool {
	return errors.Is(err, ErrTurnViolation) || errors.Is(err, ErrIllegalMove) || errors.Is(err, ErrGameOver)
}
