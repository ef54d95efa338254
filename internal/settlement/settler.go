// Package settlement hands decisive results to the staking contract relay.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/obslog"
)

// Settler pays out a game to the winner's address.
type Settler interface {
	EndGame(ctx context.Context, gameID, winnerAddress string) error
}

type endGameRequest struct {
	GameID        string `json:"gameId"`
	WinnerAddress string `json:"winnerAddress"`
}

// HTTPSettler posts results to an external relay that submits the
// contract transaction.
type HTTPSettler struct {
	baseURL string
	http    *fasthttp.Client
	token   string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*HTTPSettler)

func WithTimeout(d time.Duration) Option {
	return func(s *HTTPSettler) { s.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(s *HTTPSettler) { s.retryMax = max }
}

// WithBearer sets the Authorization header sent to the relay.
func WithBearer(token string) Option {
	return func(s *HTTPSettler) { s.token = strings.TrimSpace(token) }
}

func NewHTTPSettler(baseURL string, opts ...Option) *HTTPSettler {
	s := &HTTPSettler{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSettler) EndGame(ctx context.Context, gameID, winnerAddress string) error {
	if strings.TrimSpace(gameID) == "" || strings.TrimSpace(winnerAddress) == "" {
		return errors.New("settlement: game id and winner address are required")
	}
	return s.postJSON(ctx, "/end-game", endGameRequest{GameID: gameID, WinnerAddress: winnerAddress})
}

func (s *HTTPSettler) postJSON(ctx context.Context, path string, in any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(s.baseURL + path)
	req.Header.SetContentType("application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := s.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.http.DoDeadline(req, resp, s.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = fmt.Errorf("settlement relay error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return lastErr
			}
		} else {
			return nil
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (s *HTTPSettler) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(s.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

// LogSettler only records the payout; used when no relay is configured.
type LogSettler struct{}

func (LogSettler) EndGame(_ context.Context, gameID, winnerAddress string) error {
	obslog.L().Info("settlement_logged", zap.String("game_id", gameID), zap.String("winner_address", winnerAddress))
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
