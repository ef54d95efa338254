package matchmaking

import (
	"context"
	"strings"
	"sync"
)

// MemoryLedger is an append-only log of games with a map index.
type MemoryLedger struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*OpenGame
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byID: make(map[string]*OpenGame)}
}

func (l *MemoryLedger) Create(_ context.Context, gameID, creator, stake string) (*OpenGame, error) {
	g, err := newOpenGame(gameID, creator, stake)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[g.GameID]; ok {
		return nil, ErrGameExists
	}
	l.byID[g.GameID] = g
	l.order = append(l.order, g.GameID)
	return clone(g), nil
}

// Join seats userID as black. Rejoining the seat you already hold is a no-op.
func (l *MemoryLedger) Join(_ context.Context, gameID, userID string) (*OpenGame, error) {
	gameID, userID = strings.TrimSpace(gameID), strings.TrimSpace(userID)
	if gameID == "" || userID == "" {
		return nil, ErrInvalidArgs
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.byID[gameID]
	if err := seat(g, userID); err != nil {
		return nil, err
	}
	return clone(g), nil
}

// List returns games still waiting for a second player, oldest first.
func (l *MemoryLedger) List(_ context.Context) ([]*OpenGame, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*OpenGame, 0, len(l.order))
	for _, id := range l.order {
		if g := l.byID[id]; g != nil && !g.Full() {
			out = append(out, clone(g))
		}
	}
	return out, nil
}

func (l *MemoryLedger) Lookup(_ context.Context, gameID string) (*OpenGame, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return clone(l.byID[strings.TrimSpace(gameID)]), nil
}
