package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/obslog"
)

const ttlGame = 24 * time.Hour

// RedisLedger stores each game as JSON under mm:game:<id> and keeps the
// creation order in the mm:open list.
type RedisLedger struct{ rdb *redis.Client }

func NewRedisLedger(rdb *redis.Client) *RedisLedger { return &RedisLedger{rdb: rdb} }

func (l *RedisLedger) keyGame(id string) string { return "mm:game:" + strings.TrimSpace(id) }
func (l *RedisLedger) keyOpen() string          { return "mm:open" }

func (l *RedisLedger) Create(ctx context.Context, gameID, creator, stake string) (*OpenGame, error) {
	g, err := newOpenGame(gameID, creator, stake)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	ok, err := l.rdb.SetNX(ctx, l.keyGame(g.GameID), raw, ttlGame).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGameExists
	}
	if err := l.rdb.RPush(ctx, l.keyOpen(), g.GameID).Err(); err != nil {
		return nil, err
	}
	obslog.L().Info("matchmaking_create", zap.String("game_id", g.GameID), zap.String("creator_id", g.Player1))
	return g, nil
}

func (l *RedisLedger) Join(ctx context.Context, gameID, userID string) (*OpenGame, error) {
	gameID, userID = strings.TrimSpace(gameID), strings.TrimSpace(userID)
	if gameID == "" || userID == "" {
		return nil, ErrInvalidArgs
	}
	key := l.keyGame(gameID)
	var joined *OpenGame
	err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		g, err := decodeGame(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		if err := seat(g, userID); err != nil {
			return err
		}
		raw, err := json.Marshal(g)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, raw, redis.SetArgs{KeepTTL: true})
			pipe.LRem(ctx, l.keyOpen(), 0, gameID)
			return nil
		})
		joined = g
		return err
	}, key)
	if err != nil {
		obslog.L().Warn("matchmaking_join_error", zap.String("game_id", gameID), zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	obslog.L().Info("matchmaking_join", zap.String("game_id", gameID), zap.String("user_id", userID))
	return joined, nil
}

func (l *RedisLedger) List(ctx context.Context) ([]*OpenGame, error) {
	ids, err := l.rdb.LRange(ctx, l.keyOpen(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*OpenGame, 0, len(ids))
	for _, id := range ids {
		g, err := l.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		// expired or already seated
		if g == nil || g.Full() {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (l *RedisLedger) Lookup(ctx context.Context, gameID string) (*OpenGame, error) {
	g, err := decodeGame(l.rdb.Get(ctx, l.keyGame(gameID)).Bytes())
	if errors.Is(err, ErrGameNotFound) {
		return nil, nil
	}
	return g, err
}

func decodeGame(raw []byte, err error) (*OpenGame, error) {
	if err == redis.Nil {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	var g OpenGame
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}
