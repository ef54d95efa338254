package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMessages(t *testing.T) {
	c := MustDefault()
	if got := c.Text("move.not_your_turn", nil, ""); got != "Not your turn" {
		t.Fatalf("not_your_turn = %q", got)
	}
	got, err := c.Render("game.unknown", map[string]string{"GameID": "G1"})
	if err != nil || got != "Game G1 not found" {
		t.Fatalf("game.unknown = %q, %v", got, err)
	}
}

func TestMissingKeyFallsBack(t *testing.T) {
	c := MustDefault()
	if got := c.Text("nope", nil, "fallback"); got != "fallback" {
		t.Fatalf("fallback = %q", got)
	}
	// template data without the referenced field
	if got := c.Text("game.unknown", map[string]string{}, "fb"); got != "fb" {
		t.Fatalf("missingkey fallback = %q", got)
	}
	var nilCat *Catalog
	if got := nilCat.Text("move.invalid", nil, "x"); got != "x" {
		t.Fatalf("nil catalog = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("move:\n  invalid: \"Illegal\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("move.invalid", nil, ""); got != "Illegal" {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Text("move.game_over", nil, ""); got != "Game is over" {
		t.Fatalf("default lost: %q", got)
	}
}

func TestOverrideDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("move:\n  invalid: \"x\"\n")
	_ = os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o644)
	_ = os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o644)
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
