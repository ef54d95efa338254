// Package matchmaking keeps the open-game ledger: who created a game, who
// joined it, and which color each of them plays.
package matchmaking

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sdubid/chessbit/internal/rules"
)

// OpenGame is stored as JSON in Redis under mm:game:<id>.
type OpenGame struct {
	GameID    string    `json:"game_id"`
	Player1   string    `json:"player1"`
	Player2   string    `json:"player2,omitempty"`
	Stake     string    `json:"stake,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Colors returns the seat assignment: the creator plays white, the joiner black.
func (g *OpenGame) Colors() map[string]rules.Color {
	if g == nil {
		return nil
	}
	out := make(map[string]rules.Color, 2)
	if g.Player1 != "" {
		out[g.Player1] = rules.White
	}
	if g.Player2 != "" && g.Player2 != g.Player1 {
		out[g.Player2] = rules.Black
	}
	return out
}

// Full reports whether both seats are taken.
func (g *OpenGame) Full() bool { return g != nil && g.Player2 != "" }

// Ledger is the matchmaking record consulted when a session is first created.
// Lookup returns nil, nil for an unknown game.
type Ledger interface {
	Create(ctx context.Context, gameID, creator, stake string) (*OpenGame, error)
	Join(ctx context.Context, gameID, userID string) (*OpenGame, error)
	List(ctx context.Context) ([]*OpenGame, error)
	Lookup(ctx context.Context, gameID string) (*OpenGame, error)
}

var (
	ErrInvalidArgs  = errf("invalid arguments")
	ErrGameExists   = errf("game already exists")
	ErrGameNotFound = errf("game not found")
	ErrFull         = errf("game already has two players")
	ErrSelfJoin     = errf("cannot join your own game")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

func newOpenGame(gameID, creator, stake string) (*OpenGame, error) {
	gameID = strings.TrimSpace(gameID)
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return nil, ErrInvalidArgs
	}
	if gameID == "" {
		gameID = uuid.NewString()
	}
	return &OpenGame{
		GameID:    gameID,
		Player1:   creator,
		Stake:     strings.TrimSpace(stake),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func seat(g *OpenGame, userID string) error {
	if g == nil {
		return ErrGameNotFound
	}
	if g.Player1 == userID {
		return ErrSelfJoin
	}
	if g.Full() {
		if g.Player2 == userID {
			return nil
		}
		return ErrFull
	}
	g.Player2 = userID
	return nil
}

func clone(g *OpenGame) *OpenGame {
	if g == nil {
		return nil
	}
	cp := *g
	return &cp
}
