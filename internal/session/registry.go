package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sdubid/chessbit/internal/matchmaking"
	"github.com/sdubid/chessbit/internal/obslog"
	"github.com/sdubid/chessbit/internal/rules"
)

const seedTimeout = 5 * time.Second

// Seeder supplies the color assignment for a game. Lookup returns nil, nil
// when the game has no record.
type Seeder interface {
	Lookup(ctx context.Context, gameID string) (*matchmaking.OpenGame, error)
}

// Registry maps game ids to sessions. Sessions live until the process exits.
type Registry struct {
	seeder Seeder
	deps   Deps

	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group
	persist  sync.WaitGroup
}

func NewRegistry(seeder Seeder, deps Deps) *Registry {
	return &Registry{seeder: seeder, deps: deps, sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for gameID, creating it from the ledger on
// first use. Concurrent first calls share one ledger lookup and one Session.
func (r *Registry) GetOrCreate(ctx context.Context, gameID string) (*Session, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, ErrInvalidArgs
	}
	if s := r.lookup(gameID); s != nil {
		return s, nil
	}
	v, err, _ := r.group.Do(gameID, func() (any, error) {
		if s := r.lookup(gameID); s != nil {
			return s, nil
		}
		seed, err := r.seed(ctx, gameID)
		if err != nil {
			return nil, err
		}
		s := newSession(gameID, seed, r.deps, r.seeder, &r.persist)

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.sessions[gameID]; ok {
			return existing, nil
		}
		r.sessions[gameID] = s
		obslog.L().Info("session_create", zap.String("game_id", gameID), zap.Int("players", len(seed)))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) seed(ctx context.Context, gameID string) (map[UserID]rules.Color, error) {
	if r.seeder == nil {
		obslog.L().Warn("session_unseeded", zap.String("game_id", gameID), zap.String("reason", "no ledger"))
		return nil, nil
	}
	// shared by concurrent callers; detached from the first caller's cancellation
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), seedTimeout)
	defer cancel()
	rec, err := r.seeder.Lookup(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup %s: %w", gameID, err)
	}
	if rec == nil {
		obslog.L().Warn("session_unseeded", zap.String("game_id", gameID))
		return nil, nil
	}
	seed := make(map[UserID]rules.Color, 2)
	for u, c := range rec.Colors() {
		seed[UserID(u)] = c
	}
	return seed, nil
}

func (r *Registry) lookup(gameID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[gameID]
}

// Get returns the existing session or ErrUnknownGame.
func (r *Registry) Get(gameID string) (*Session, error) {
	if s := r.lookup(strings.TrimSpace(gameID)); s != nil {
		return s, nil
	}
	return nil, ErrUnknownGame
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Wait blocks until background address writes finish or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.persist.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
