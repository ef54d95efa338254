package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/sdubid/chessbit/internal/archive"
	"github.com/sdubid/chessbit/internal/config"
	"github.com/sdubid/chessbit/internal/matchmaking"
	"github.com/sdubid/chessbit/internal/rules"
	"github.com/sdubid/chessbit/internal/session"
	"github.com/sdubid/chessbit/internal/settlement"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		ListenAddr:            ":0",
		JWTSecret:             "secret",
		JWTIssuer:             "chessbit",
		TokenTTL:              time.Hour,
		SettlementMaxAttempts: 400,
		SettlementRetryDelay:  5 * time.Millisecond,
		AddressPersistTimeout: time.Second,
		SendBuffer:            8,
	}
}

func newApp(t *testing.T, cfg *config.AppConfig) *App {
	t.Helper()
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestFreshAppHasNoSessions(t *testing.T) {
	first := newApp(t, testConfig())
	if _, err := first.Registry.GetOrCreate(context.Background(), "G1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.Registry.Len() != 1 {
		t.Fatalf("Len = %d", first.Registry.Len())
	}

	restarted := newApp(t, testConfig())
	if restarted.Registry.Len() != 0 {
		t.Fatalf("sessions survived a restart")
	}
	if _, err := restarted.Registry.Get("G1"); err == nil {
		t.Fatalf("expected unknown game after restart")
	}
}

func TestMemoryFallbacks(t *testing.T) {
	a := newApp(t, testConfig())
	if _, ok := a.Ledger.(*matchmaking.MemoryLedger); !ok {
		t.Fatalf("ledger = %T", a.Ledger)
	}
	if _, ok := a.Archive.(*archive.MemoryStore); !ok {
		t.Fatalf("archive = %T", a.Archive)
	}
}

func TestRedisLedgerWhenConfigured(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	a := newApp(t, cfg)
	if _, ok := a.Ledger.(*matchmaking.RedisLedger); !ok {
		t.Fatalf("ledger = %T", a.Ledger)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestBadRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "http://nope"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCheckmateIsArchivedAndSettled(t *testing.T) {
	a := newApp(t, testConfig())
	ctx := context.Background()
	if _, err := a.Ledger.Create(ctx, "G1", "u1", "1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := a.Ledger.Join(ctx, "G1", "u2"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	s, err := a.Registry.GetOrCreate(ctx, "G1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	// no live connections: emits are dropped, play still proceeds
	if err := s.Join(ctx, "u1", "c1", "0xA1"); err != nil {
		t.Fatalf("Join u1: %v", err)
	}
	if err := s.Join(ctx, "u2", "c2", ""); err != nil {
		t.Fatalf("Join u2: %v", err)
	}
	for i, mv := range [][2]string{{"f2", "f3"}, {"e7", "e5"}, {"g2", "g4"}, {"d8", "h4"}} {
		u, conn := session.UserID("u1"), session.ConnectionID("c1")
		if i%2 == 1 {
			u, conn = "u2", "c2"
		}
		if err := s.Move(ctx, u, conn, rules.Move{From: mv[0], To: mv[1]}); err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
	}

	rec, err := a.Archive.Get(ctx, "G1")
	if err != nil || rec == nil || rec.Result != session.ResultBlackWins {
		t.Fatalf("archive = %+v, %v", rec, err)
	}
	// the winner's address is not known yet
	time.Sleep(20 * time.Millisecond)
	if st := a.Settlement.Status("G1"); st != settlement.StatusPending {
		t.Fatalf("status = %q", st)
	}

	if err := s.Join(ctx, "u2", "c2", "0xA2"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Settlement.Status("G1") != settlement.StatusSettled {
		if time.Now().After(deadline) {
			t.Fatalf("status = %q", a.Settlement.Status("G1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLateJoinerPlaysBlack(t *testing.T) {
	a := newApp(t, testConfig())
	ctx := context.Background()
	if _, err := a.Ledger.Create(ctx, "G1", "u1", "1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err := a.Registry.GetOrCreate(ctx, "G1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := s.Join(ctx, "u1", "c1", "0xA1"); err != nil {
		t.Fatalf("Join u1: %v", err)
	}
	if _, err := a.Ledger.Join(ctx, "G1", "u2"); err != nil {
		t.Fatalf("ledger Join: %v", err)
	}
	if err := s.Join(ctx, "u2", "c2", "0xA2"); err != nil {
		t.Fatalf("Join u2: %v", err)
	}
	if err := s.Move(ctx, "u1", "c1", rules.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("white: %v", err)
	}
	if err := s.Move(ctx, "u2", "c2", rules.Move{From: "e7", To: "e5"}); err != nil {
		t.Fatalf("black: %v", err)
	}
	if p := s.Snapshot().Players; p["u2"] != rules.Black {
		t.Fatalf("players = %v", p)
	}
}

func TestAuthRoutesMounted(t *testing.T) {
	a := newApp(t, testConfig())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{"username":"carol","password":"secret-pw"}`))
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("register = %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := a.Auth.Authenticate(body.Token); err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
}
