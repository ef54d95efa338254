// Package archive keeps finished games with their move lists and PGN.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type Record struct {
	GameID   string
	WhiteID  string
	BlackID  string
	Result   string // 1-0, 0-1, 1/2-1/2
	Method   string
	FEN      string
	MovesUCI []string
	MovesSAN []string
	PGN      string
	EndedAt  time.Time
}

type Store interface {
	Save(ctx context.Context, r Record) error
	Get(ctx context.Context, gameID string) (*Record, error)
}

// normalize fills PGN and EndedAt.
func normalize(r Record) Record {
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}
	if strings.TrimSpace(r.Result) == "" {
		r.Result = "*"
	}
	if r.PGN == "" {
		r.PGN = BuildPGN(r)
	}
	return r
}

// BuildPGN renders r as a PGN game with headers and numbered SAN moves.
func BuildPGN(r Record) string {
	var b strings.Builder
	date := r.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := strings.TrimSpace(r.Result)
	if result == "" {
		result = "*"
	}
	b.WriteString("[Event \"chessbit\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(r.GameID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(r.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(r.BlackID)))
	if m := strings.TrimSpace(r.Method); m != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(r.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(r.MovesSAN[i])))
		if i+1 < len(r.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(r.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

// MemoryStore is used when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{byID: make(map[string]Record)} }

func (m *MemoryStore) Save(_ context.Context, r Record) error {
	if strings.TrimSpace(r.GameID) == "" {
		return errors.New("archive: empty game id")
	}
	r = normalize(r)
	r.MovesUCI = append([]string(nil), r.MovesUCI...)
	r.MovesSAN = append([]string(nil), r.MovesSAN...)
	m.mu.Lock()
	m.byID[r.GameID] = r
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, gameID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[gameID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

const schema = `CREATE TABLE IF NOT EXISTS chessbit_games (
    game_id       TEXT PRIMARY KEY,
    white_id      TEXT NOT NULL DEFAULT '',
    black_id      TEXT NOT NULL DEFAULT '',
    result        TEXT NOT NULL,
    result_method TEXT NOT NULL DEFAULT '',
    final_fen     TEXT NOT NULL DEFAULT '',
    moves_uci     JSONB NOT NULL DEFAULT '[]',
    moves_san     JSONB NOT NULL DEFAULT '[]',
    pgn           TEXT NOT NULL DEFAULT '',
    ended_at      TIMESTAMPTZ NOT NULL
)`

type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

// Save upserts a finished game.
func (p *PostgresStore) Save(ctx context.Context, r Record) error {
	if p == nil || p.db == nil {
		return nil
	}
	r = normalize(r)
	movesUCIRaw, _ := json.Marshal(nonNil(r.MovesUCI))
	movesSANRaw, _ := json.Marshal(nonNil(r.MovesSAN))

	q := `INSERT INTO chessbit_games (
        game_id, white_id, black_id, result, result_method,
        final_fen, moves_uci, moves_san, pgn, ended_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
      ON CONFLICT (game_id) DO UPDATE SET
        white_id=EXCLUDED.white_id,
        black_id=EXCLUDED.black_id,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        final_fen=EXCLUDED.final_fen,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at`
	_, err := p.db.ExecContext(ctx, q,
		r.GameID, r.WhiteID, r.BlackID, r.Result, strings.TrimSpace(r.Method),
		r.FEN, string(movesUCIRaw), string(movesSANRaw), r.PGN, r.EndedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, gameID string) (*Record, error) {
	var (
		r        Record
		uci, san []byte
	)
	err := p.db.QueryRowContext(ctx, `SELECT game_id, white_id, black_id, result, result_method,
        final_fen, moves_uci, moves_san, pgn, ended_at FROM chessbit_games WHERE game_id = $1`, gameID).
		Scan(&r.GameID, &r.WhiteID, &r.BlackID, &r.Result, &r.Method, &r.FEN, &uci, &san, &r.PGN, &r.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(uci, &r.MovesUCI); err != nil {
		return nil, fmt.Errorf("decode moves_uci: %w", err)
	}
	if err := json.Unmarshal(san, &r.MovesSAN); err != nil {
		return nil, fmt.Errorf("decode moves_san: %w", err)
	}
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
