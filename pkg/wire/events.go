// Package wire holds the realtime event payloads exchanged with clients.
// Every frame is an Envelope: {"event": "<name>", "data": {...}}.
package wire

import "encoding/json"

const (
	EventJoin = "join"
	EventMove = "move"

	EventGameState       = "gameState"
	EventPlayerColor     = "playerColor"
	EventOpponentAddress = "opponentAddress"
	EventInvalidMove     = "invalidMove"
	EventGameOver        = "gameOver"
	EventError           = "error"
)

// Error codes carried by EventError.
const (
	CodeBadRequest   = "bad_request"
	CodeUnknownEvent = "unknown_event"
	CodeUnknownGame  = "unknown_game"
	CodeUnseededGame = "unseeded_game"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// Envelope is an inbound frame before its data is decoded.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Name string
	Data any
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: e.Name, Data: e.Data})
}

type JoinRequest struct {
	GameID  string `json:"gameId"`
	Address string `json:"address"`
}

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type MoveRequest struct {
	GameID string `json:"gameId"`
	Move   Move   `json:"move"`
}

type GameState struct {
	FEN string `json:"fen"`
}

// PlayerColor carries a nil Color when the user has no seat in the game.
type PlayerColor struct {
	Color *string `json:"color"`
}

type OpponentAddress struct {
	Address string `json:"address"`
}

type InvalidMove struct {
	Reason string `json:"reason"`
}

type GameOver struct {
	Result string `json:"result"`
	Method string `json:"method"`
	Winner string `json:"winner,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func GameStateEvent(fen string) Event { return Event{Name: EventGameState, Data: GameState{FEN: fen}} }

func PlayerColorEvent(color string) Event {
	if color == "" {
		return Event{Name: EventPlayerColor, Data: PlayerColor{}}
	}
	return Event{Name: EventPlayerColor, Data: PlayerColor{Color: &color}}
}

func OpponentAddressEvent(addr string) Event {
	return Event{Name: EventOpponentAddress, Data: OpponentAddress{Address: addr}}
}

func InvalidMoveEvent(reason string) Event {
	return Event{Name: EventInvalidMove, Data: InvalidMove{Reason: reason}}
}

func GameOverEvent(result, method, winner string) Event {
	return Event{Name: EventGameOver, Data: GameOver{Result: result, Method: method, Winner: winner}}
}

func ErrorEvent(code, message string) Event {
	return Event{Name: EventError, Data: Error{Code: code, Message: message}}
}
