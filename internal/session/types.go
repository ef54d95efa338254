// Package session holds the in-memory game sessions: who plays which color,
// which connection each player is bound to, and the authoritative position.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/sdubid/chessbit/internal/rules"
	"github.com/sdubid/chessbit/pkg/wire"
)

type (
	UserID       string
	ConnectionID string
)

var (
	ErrInvalidArgs   = errors.New("invalid arguments")
	ErrUnknownGame   = errors.New("unknown game")
	ErrTurnViolation = errors.New("not your turn")
	ErrIllegalMove   = errors.New("illegal move")
	ErrGameOver      = errors.New("game is over")
)

// Emitter delivers an event to one connection. It must not block; an error
// means the event was not queued (connection gone or its buffer full).
type Emitter interface {
	Emit(conn ConnectionID, ev wire.Event) error
}

// Oracle is the chess authority a session defers to.
type Oracle interface {
	InitialPosition() rules.Position
	Turn(pos rules.Position) rules.Color
	ApplyMove(pos rules.Position, mv rules.Move) (rules.Position, error)
	IsGameOver(pos rules.Position) bool
	IsCheckmate(pos rules.Position) bool
	Method(pos rules.Position) string
	Serialize(pos rules.Position) string
}

// AddressStore persists wallet addresses. GetAddress returns "" for a user
// without one.
type AddressStore interface {
	GetAddress(ctx context.Context, userID string) (string, error)
	SetAddress(ctx context.Context, userID, address string) error
}

// Finisher receives every finished game exactly once, outside the session lock.
type Finisher interface {
	GameOver(o Outcome)
}

// Messages renders client-facing reason texts.
type Messages interface {
	Text(key string, data any, fallback string) string
}

type Deps struct {
	Oracle    Oracle
	Emitter   Emitter
	Addresses AddressStore
	Finisher  Finisher
	Messages  Messages

	PersistTimeout  time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration
}

const (
	ResultWhiteWins = "1-0"
	ResultBlackWins = "0-1"
	ResultDraw      = "1/2-1/2"
)

// Outcome describes a finished game.
type Outcome struct {
	GameID      string
	Result      string
	Method      string
	WinnerColor rules.Color
	Winner      UserID
	White       UserID
	Black       UserID
	FEN         string
	MovesUCI    []string
	MovesSAN    []string
	EndedAt     time.Time

	// Resolve reports the winner's address once it is known.
	Resolve func() (string, bool)
}

// Decisive reports whether the game has a winner.
func (o Outcome) Decisive() bool { return o.WinnerColor.Valid() }

// Snapshot is a copy of a session's state.
type Snapshot struct {
	GameID    string
	FEN       string
	Turn      rules.Color
	Players   map[UserID]rules.Color
	Sockets   map[UserID]ConnectionID
	Addresses map[UserID]string
	Members   map[ConnectionID]UserID
	MovesUCI  []string
	Finished  bool
	Outcome   *Outcome
	CreatedAt time.Time
}
