package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrMalformed   = errors.New("malformed move")
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

// ParseColor accepts "white"/"black" and the single-letter forms.
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	default:
		return "", false
	}
}

// Move is a from/to square pair with an optional promotion piece.
type Move struct {
	From      string
	To        string
	Promotion string
}

// Position is an immutable board state. The zero value is the initial position.
type Position struct {
	game *nchess.Game
	san  []string
}

func (p Position) current() *nchess.Game {
	if p.game == nil {
		return nchess.NewGame()
	}
	return p.game
}

// MovesUCI lists the moves played to reach p in UCI notation.
func (p Position) MovesUCI() []string {
	moves := p.current().Moves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, mv.String())
	}
	return out
}

// MovesSAN lists the moves played to reach p in algebraic notation.
func (p Position) MovesSAN() []string { return append([]string(nil), p.san...) }

// Oracle answers legality, turn and terminal-state questions.
type Oracle struct{}

func NewOracle() *Oracle { return &Oracle{} }

func (o *Oracle) InitialPosition() Position {
	return Position{game: nchess.NewGame()}
}

func (o *Oracle) Turn(pos Position) Color {
	if pos.current().Position().Turn() == nchess.Black {
		return Black
	}
	return White
}

// ApplyMove returns the position after mv, or ErrIllegalMove. pos is not modified.
// An empty promotion defaults to a queen when the move needs one.
func (o *Oracle) ApplyMove(pos Position, mv Move) (Position, error) {
	from := strings.ToLower(strings.TrimSpace(mv.From))
	to := strings.ToLower(strings.TrimSpace(mv.To))
	if len(from) != 2 || len(to) != 2 {
		return pos, fmt.Errorf("%w: %q-%q", ErrMalformed, mv.From, mv.To)
	}
	promo, ok := promotionLetter(mv.Promotion)
	if !ok {
		return pos, fmt.Errorf("%w: promotion %q", ErrMalformed, mv.Promotion)
	}

	candidates := []string{from + to + promo}
	if mv.Promotion == "" {
		candidates = []string{from + to, from + to + "q"}
	}

	base := pos.current()
	for _, uci := range candidates {
		prev := base.Position()
		decoded, err := nchess.UCINotation{}.Decode(prev, uci)
		if err != nil {
			continue
		}
		next := base.Clone()
		if err := next.Move(decoded, nil); err != nil {
			continue
		}
		san := append(append([]string(nil), pos.san...), nchess.AlgebraicNotation{}.Encode(prev, decoded))
		return Position{game: next, san: san}, nil
	}
	return pos, fmt.Errorf("%w: %s%s", ErrIllegalMove, from, to)
}

func (o *Oracle) IsGameOver(pos Position) bool {
	return pos.current().Outcome() != nchess.NoOutcome
}

func (o *Oracle) IsCheckmate(pos Position) bool {
	return pos.current().Method() == nchess.Checkmate
}

// Method names how the game ended ("checkmate", "stalemate", ...); empty while in progress.
func (o *Oracle) Method(pos Position) string {
	g := pos.current()
	if g.Outcome() == nchess.NoOutcome {
		return ""
	}
	switch g.Method() {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	case nchess.FivefoldRepetition:
		return "fivefold_repetition"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	case nchess.ThreefoldRepetition:
		return "threefold_repetition"
	case nchess.FiftyMoveRule:
		return "fifty_move_rule"
	default:
		return "draw"
	}
}

// Serialize returns the canonical FEN of pos.
func (o *Oracle) Serialize(pos Position) string {
	return pos.current().FEN()
}

func promotionLetter(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", true
	case "q", "queen":
		return "q", true
	case "r", "rook":
		return "r", true
	case "b", "bishop":
		return "b", true
	case "n", "knight":
		return "n", true
	default:
		return "", false
	}
}
