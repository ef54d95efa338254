package rules

import (
	"errors"
	"testing"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func play(t *testing.T, o *Oracle, pos Position, moves ...Move) Position {
	t.Helper()
	for _, mv := range moves {
		next, err := o.ApplyMove(pos, mv)
		if err != nil {
			t.Fatalf("ApplyMove(%v): %v", mv, err)
		}
		pos = next
	}
	return pos
}

func TestInitialPosition(t *testing.T) {
	o := NewOracle()
	pos := o.InitialPosition()
	if got := o.Serialize(pos); got != startFEN {
		t.Fatalf("initial fen = %q", got)
	}
	if o.Turn(pos) != White {
		t.Fatalf("white must move first")
	}
	if o.Serialize(Position{}) != startFEN {
		t.Fatalf("zero position should be the initial position")
	}
}

func TestApplyMoveIsPure(t *testing.T) {
	o := NewOracle()
	pos := o.InitialPosition()
	next, err := o.ApplyMove(pos, Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("e2e4: %v", err)
	}
	if o.Serialize(pos) != startFEN {
		t.Fatalf("source position mutated")
	}
	if o.Turn(next) != Black {
		t.Fatalf("turn should pass to black")
	}
	if uci := next.MovesUCI(); len(uci) != 1 || uci[0] != "e2e4" {
		t.Fatalf("moves uci = %v", uci)
	}
	if san := next.MovesSAN(); len(san) != 1 || san[0] != "e4" {
		t.Fatalf("moves san = %v", san)
	}
}

func TestApplyMoveRejects(t *testing.T) {
	o := NewOracle()
	pos := o.InitialPosition()
	cases := []Move{
		{From: "e2", To: "e9"},
		{From: "e2", To: "e5"},
		{From: "e7", To: "e5"},
		{From: "", To: "e4"},
		{From: "e2", To: "e4", Promotion: "king"},
	}
	for _, mv := range cases {
		_, err := o.ApplyMove(pos, mv)
		if err == nil {
			t.Fatalf("expected %v to be rejected", mv)
		}
		if !errors.Is(err, ErrIllegalMove) && !errors.Is(err, ErrMalformed) {
			t.Fatalf("unexpected error kind for %v: %v", mv, err)
		}
	}
}

func TestFoolsMateIsCheckmate(t *testing.T) {
	o := NewOracle()
	pos := play(t, o, o.InitialPosition(),
		Move{From: "f2", To: "f3"},
		Move{From: "e7", To: "e5"},
		Move{From: "g2", To: "g4"},
		Move{From: "d8", To: "h4"},
	)
	if !o.IsGameOver(pos) || !o.IsCheckmate(pos) {
		t.Fatalf("expected checkmate")
	}
	if o.Method(pos) != "checkmate" {
		t.Fatalf("method = %q", o.Method(pos))
	}
	// side to move is mated; the other side delivered it
	if o.Turn(pos).Opponent() != Black {
		t.Fatalf("black should be the winner")
	}
}

func TestDefaultPromotionIsQueen(t *testing.T) {
	o := NewOracle()
	pos := play(t, o, o.InitialPosition(),
		Move{From: "h2", To: "h4"},
		Move{From: "g7", To: "g5"},
		Move{From: "h4", To: "g5"},
		Move{From: "h7", To: "h6"},
		Move{From: "g5", To: "h6"},
		Move{From: "f8", To: "g7"},
		Move{From: "h6", To: "g7"},
		Move{From: "a7", To: "a6"},
	)
	next, err := o.ApplyMove(pos, Move{From: "g7", To: "h8"})
	if err != nil {
		t.Fatalf("promotion capture: %v", err)
	}
	uci := next.MovesUCI()
	if last := uci[len(uci)-1]; last != "g7h8q" {
		t.Fatalf("expected queen promotion, got %q", last)
	}

	under, err := o.ApplyMove(pos, Move{From: "g7", To: "h8", Promotion: "n"})
	if err != nil {
		t.Fatalf("underpromotion: %v", err)
	}
	uci = under.MovesUCI()
	if last := uci[len(uci)-1]; last != "g7h8n" {
		t.Fatalf("expected knight promotion, got %q", last)
	}
}

func TestParseColor(t *testing.T) {
	if c, ok := ParseColor(" W "); !ok || c != White {
		t.Fatalf("parse white: %v %v", c, ok)
	}
	if c, ok := ParseColor("black"); !ok || c != Black {
		t.Fatalf("parse black: %v %v", c, ok)
	}
	if _, ok := ParseColor("random"); ok {
		t.Fatalf("random is not a color")
	}
}
