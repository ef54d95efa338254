package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/auth"
	"github.com/sdubid/chessbit/internal/matchmaking"
	"github.com/sdubid/chessbit/internal/obslog"
)

// Matchmaking serves the thin HTTP surface over the ledger.
type Matchmaking struct {
	auth   Authenticator
	ledger matchmaking.Ledger
}

func NewMatchmaking(a Authenticator, l matchmaking.Ledger) *Matchmaking {
	return &Matchmaking{auth: a, ledger: l}
}

// Register mounts the routes under /api/matchmaking/.
func (m *Matchmaking) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/matchmaking/open-games", m.authed(m.openGames))
	mux.Handle("GET /api/matchmaking/game/{gameId}", m.authed(m.game))
	mux.Handle("POST /api/matchmaking/create-game", m.authed(m.createGame))
	mux.Handle("POST /api/matchmaking/join-game", m.authed(m.joinGame))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (m *Matchmaking) authed(h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := m.auth.Authenticate(auth.FromRequest(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Msg: "Token is not valid"})
			return
		}
		h(w, r, userID)
	})
}

type gameView struct {
	GameID  string `json:"gameId"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2,omitempty"`
	Stake   string `json:"stake,omitempty"`
}

func viewOf(g *matchmaking.OpenGame) gameView {
	return gameView{GameID: g.GameID, Player1: g.Player1, Player2: g.Player2, Stake: g.Stake}
}

// stakeValue accepts a stake sent either as a JSON string or a number.
type stakeValue string

func (s *stakeValue) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = stakeValue(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = stakeValue(n.String())
	return nil
}

type createRequest struct {
	GameID string     `json:"gameId"`
	Stake  stakeValue `json:"stake"`
}

type joinRequest struct {
	GameID string `json:"gameId"`
}

func (m *Matchmaking) openGames(w http.ResponseWriter, r *http.Request, _ string) {
	games, err := m.ledger.List(r.Context())
	if err != nil {
		m.fail(w, "matchmaking_list_error", err)
		return
	}
	out := make([]gameView, 0, len(games))
	for _, g := range games {
		out = append(out, viewOf(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (m *Matchmaking) game(w http.ResponseWriter, r *http.Request, _ string) {
	g, err := m.ledger.Lookup(r.Context(), r.PathValue("gameId"))
	if err != nil {
		m.fail(w, "matchmaking_lookup_error", err)
		return
	}
	if g == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Msg: "Game not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(g))
}

func (m *Matchmaking) createGame(w http.ResponseWriter, r *http.Request, userID string) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Malformed request"})
		return
	}
	g, err := m.ledger.Create(r.Context(), req.GameID, userID, string(req.Stake))
	switch {
	case errors.Is(err, matchmaking.ErrGameExists):
		writeJSON(w, http.StatusConflict, errorBody{Msg: "Game already exists"})
	case errors.Is(err, matchmaking.ErrInvalidArgs):
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Malformed request"})
	case err != nil:
		m.fail(w, "matchmaking_create_error", err)
	default:
		writeJSON(w, http.StatusCreated, viewOf(g))
	}
}

func (m *Matchmaking) joinGame(w http.ResponseWriter, r *http.Request, userID string) {
	var req joinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Malformed request"})
		return
	}
	g, err := m.ledger.Join(r.Context(), req.GameID, userID)
	switch {
	case errors.Is(err, matchmaking.ErrGameNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Msg: "Game not found"})
	case errors.Is(err, matchmaking.ErrFull):
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Game already has two players"})
	case errors.Is(err, matchmaking.ErrSelfJoin):
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Cannot join your own game"})
	case errors.Is(err, matchmaking.ErrInvalidArgs):
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Malformed request"})
	case err != nil:
		m.fail(w, "matchmaking_join_error", err)
	default:
		writeJSON(w, http.StatusOK, viewOf(g))
	}
}

func (m *Matchmaking) fail(w http.ResponseWriter, event string, err error) {
	obslog.L().Error(event, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Msg: "Server error"})
}
