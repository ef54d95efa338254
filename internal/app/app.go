// Package app wires the process: stores, the session registry, the gateway
// and settlement.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/archive"
	"github.com/sdubid/chessbit/internal/auth"
	"github.com/sdubid/chessbit/internal/config"
	"github.com/sdubid/chessbit/internal/gateway"
	"github.com/sdubid/chessbit/internal/matchmaking"
	"github.com/sdubid/chessbit/internal/msgcat"
	"github.com/sdubid/chessbit/internal/obslog"
	"github.com/sdubid/chessbit/internal/pgdb"
	"github.com/sdubid/chessbit/internal/rules"
	"github.com/sdubid/chessbit/internal/session"
	"github.com/sdubid/chessbit/internal/settlement"
	"github.com/sdubid/chessbit/internal/users"
)

const archiveTimeout = 5 * time.Second

// App owns every piece of process-wide state. A new App starts empty.
type App struct {
	Auth        *auth.Authenticator
	Ledger      matchmaking.Ledger
	Users       users.Store
	Credentials users.CredentialStore
	Archive     archive.Store
	Registry    *session.Registry
	Hub         *gateway.Hub
	Settlement  *settlement.Dispatcher

	rdb     *redis.Client
	db      *sql.DB
	handler http.Handler
}

func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	a := &App{Auth: auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			_ = a.rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Ledger = matchmaking.NewRedisLedger(a.rdb)
	} else {
		obslog.L().Warn("ledger_memory", zap.String("reason", "REDIS_URL not set"))
		a.Ledger = matchmaking.NewMemoryLedger()
	}

	if cfg.DatabaseURL != "" {
		a.db, err = pgdb.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			a.closeStores()
			return nil, err
		}
		us, as := users.NewPostgresStore(a.db), archive.NewPostgresStore(a.db)
		if err := errors.Join(us.EnsureSchema(ctx), as.EnsureSchema(ctx)); err != nil {
			a.closeStores()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.Users, a.Credentials, a.Archive = us, us, as
	} else {
		obslog.L().Warn("storage_memory", zap.String("reason", "DATABASE_URL not set"))
		mem := users.NewMemoryStore()
		a.Users, a.Credentials, a.Archive = mem, mem, archive.NewMemoryStore()
	}

	var settler settlement.Settler = settlement.LogSettler{}
	if cfg.SettlementURL != "" {
		settler = settlement.NewHTTPSettler(cfg.SettlementURL)
	}
	a.Settlement = settlement.NewDispatcher(settler, cfg.SettlementMaxAttempts, cfg.SettlementRetryDelay)

	a.Hub = gateway.NewHub(cfg.SendBuffer)
	a.Registry = session.NewRegistry(a.Ledger, session.Deps{
		Oracle:         rules.NewOracle(),
		Emitter:        a.Hub,
		Addresses:      a.Users,
		Finisher:       a,
		Messages:       msgs,
		PersistTimeout: cfg.AddressPersistTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.New(a.Auth, a.Registry, a.Hub, gateway.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Messages:       msgs,
	}))
	gateway.NewMatchmaking(a.Auth, a.Ledger).Register(mux)
	gateway.NewAccounts(a.Auth, a.Credentials).Register(mux)
	mux.HandleFunc("GET /healthz", a.healthz)
	a.handler = mux
	return a, nil
}

func (a *App) Handler() http.Handler { return a.handler }

// GameOver archives every finished game and queues decisive ones for payout.
func (a *App) GameOver(o session.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	rec := archive.Record{
		GameID:   o.GameID,
		WhiteID:  string(o.White),
		BlackID:  string(o.Black),
		Result:   o.Result,
		Method:   o.Method,
		FEN:      o.FEN,
		MovesUCI: o.MovesUCI,
		MovesSAN: o.MovesSAN,
		EndedAt:  o.EndedAt,
	}
	if err := a.Archive.Save(ctx, rec); err != nil {
		obslog.L().Error("archive_save_error", zap.String("game_id", o.GameID), zap.Error(err))
	}
	if !o.Decisive() || o.Resolve == nil {
		obslog.L().Info("settlement_skipped", zap.String("game_id", o.GameID), zap.String("result", o.Result))
		return
	}
	a.Settlement.Submit(settlement.Claim{GameID: o.GameID, Winner: string(o.Winner), Resolve: o.Resolve})
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	if a.rdb != nil {
		if err := a.rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// Close drains settlement and address writes, then releases the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Settlement != nil {
		errs = append(errs, a.Settlement.Close(ctx))
	}
	if a.Registry != nil {
		errs = append(errs, a.Registry.Wait(ctx))
	}
	errs = append(errs, a.closeStores())
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
