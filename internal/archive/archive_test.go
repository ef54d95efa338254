package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sdubid/chessbit/internal/pgdb"
)

func foolsMate() Record {
	return Record{
		GameID:   "G1",
		WhiteID:  "u1",
		BlackID:  "u2",
		Result:   "0-1",
		Method:   "checkmate",
		MovesUCI: []string{"f2f3", "e7e5", "g2g4", "d8h4"},
		MovesSAN: []string{"f3", "e5", "g4", "Qh4#"},
		EndedAt:  time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestBuildPGN(t *testing.T) {
	pgn := BuildPGN(foolsMate())
	for _, want := range []string{
		`[Date "2026.03.04"]`,
		`[White "u1"]`,
		`[Termination "checkmate"]`,
		`[Result "0-1"]`,
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestSanitizePGN(t *testing.T) {
	if got := sanitizePGN(` a"b\c `); got != "a'b c" {
		t.Fatalf("sanitize = %q", got)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Save(ctx, foolsMate()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(ctx, "G1")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.PGN == "" || len(got.MovesSAN) != 4 {
		t.Fatalf("record = %+v", got)
	}
	if missing, _ := s.Get(ctx, "nope"); missing != nil {
		t.Fatalf("expected nil for unknown game")
	}
	if err := s.Save(ctx, Record{}); err == nil {
		t.Fatalf("expected error for empty game id")
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("CHESSBIT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHESSBIT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := pgdb.Open(ctx, url)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := s.Save(ctx, foolsMate()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(ctx, "G1")
	if err != nil || got == nil || got.Result != "0-1" || len(got.MovesUCI) != 4 {
		t.Fatalf("Get = %+v, %v", got, err)
	}
}
