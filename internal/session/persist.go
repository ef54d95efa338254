package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/obslog"
)

const (
	defaultPersistTimeout  = 5 * time.Second
	defaultPersistAttempts = 3
	defaultPersistBackoff  = 200 * time.Millisecond
)

func (s *Session) persistTimeout() time.Duration {
	if s.deps.PersistTimeout > 0 {
		return s.deps.PersistTimeout
	}
	return defaultPersistTimeout
}

// persistAddress writes address to the store in the background. The caller
// holds s.mu. A write is dropped once the session holds a newer address for u.
func (s *Session) persistAddress(ctx context.Context, u UserID, address string) {
	store := s.deps.Addresses
	if store == nil {
		return
	}
	timeout := s.persistTimeout()
	attempts := s.deps.PersistAttempts
	if attempts <= 0 {
		attempts = defaultPersistAttempts
	}
	backoff := s.deps.PersistBackoff
	if backoff <= 0 {
		backoff = defaultPersistBackoff
	}
	// the join's connection may close before the write lands
	base := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for attempt := 1; attempt <= attempts; attempt++ {
			superseded, err := s.writeAddress(base, timeout, u, address)
			if superseded {
				obslog.L().Debug("address_persist_superseded",
					zap.String("game_id", s.id),
					zap.String("user_id", string(u)))
				return
			}
			if err == nil {
				return
			}
			obslog.L().Warn("address_persist_error",
				zap.String("game_id", s.id),
				zap.String("user_id", string(u)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < attempts {
				time.Sleep(backoff * time.Duration(attempt))
			}
		}
	}()
}

func (s *Session) writeAddress(ctx context.Context, timeout time.Duration, u UserID, address string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if current, _ := s.AddressOf(u); current != address {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	store := s.deps.Addresses
	current, err := store.GetAddress(ctx, string(u))
	if err != nil {
		return false, err
	}
	if current == address {
		return false, nil
	}
	return false, store.SetAddress(ctx, string(u), address)
}

// storedAddress reads u's address from the store; "" when unknown or on error.
func (s *Session) storedAddress(ctx context.Context, u UserID) string {
	store := s.deps.Addresses
	if store == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout())
	defer cancel()
	addr, err := store.GetAddress(ctx, string(u))
	if err != nil {
		obslog.L().Warn("address_lookup_error",
			zap.String("game_id", s.id),
			zap.String("user_id", string(u)),
			zap.Error(err))
		return ""
	}
	return addr
}
