package settlement

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/obslog"
)

// Claim is a decisive game waiting to be paid out. Resolve returns the
// winner's address once the session knows it.
type Claim struct {
	GameID  string
	Winner  string
	Resolve func() (string, bool)
}

type Status string

const (
	StatusUnknown   Status = ""
	StatusPending   Status = "pending"
	StatusSettled   Status = "settled"
	StatusAbandoned Status = "abandoned"
)

// Dispatcher settles each game at most once, deferring while the winner's
// address is unknown.
type Dispatcher struct {
	settler     Settler
	maxAttempts int
	delay       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	status map[string]Status
	closed bool
}

func NewDispatcher(s Settler, maxAttempts int, delay time.Duration) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		settler:     s,
		maxAttempts: maxAttempts,
		delay:       delay,
		ctx:         ctx,
		cancel:      cancel,
		status:      make(map[string]Status),
	}
}

// Submit queues c. It returns false for a game already submitted or after Close.
func (d *Dispatcher) Submit(c Claim) bool {
	c.GameID = strings.TrimSpace(c.GameID)
	if c.GameID == "" || c.Resolve == nil {
		return false
	}
	d.mu.Lock()
	if d.closed || d.status[c.GameID] != StatusUnknown {
		d.mu.Unlock()
		return false
	}
	d.status[c.GameID] = StatusPending
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(c)
	return true
}

func (d *Dispatcher) Status(gameID string) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status[gameID]
}

func (d *Dispatcher) run(c Claim) {
	defer d.wg.Done()
	log := obslog.L().With(zap.String("game_id", c.GameID), zap.String("winner_id", c.Winner))
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		addr, ok := c.Resolve()
		if ok && strings.TrimSpace(addr) != "" {
			err := d.settler.EndGame(d.ctx, c.GameID, addr)
			if err == nil {
				d.set(c.GameID, StatusSettled)
				log.Info("settlement_done", zap.String("winner_address", addr), zap.Int("attempt", attempt))
				return
			}
			log.Warn("settlement_error", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			log.Debug("settlement_deferred", zap.Int("attempt", attempt))
		}
		if attempt == d.maxAttempts {
			break
		}
		if err := sleepWithContext(d.ctx, d.delay); err != nil {
			break
		}
	}
	d.set(c.GameID, StatusAbandoned)
	log.Error("settlement_abandoned", zap.Int("attempts", d.maxAttempts))
}

func (d *Dispatcher) set(gameID string, s Status) {
	d.mu.Lock()
	d.status[gameID] = s
	d.mu.Unlock()
}

// Close stops accepting claims and waits for in-flight ones until ctx is
// done, then cancels whatever is left.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
