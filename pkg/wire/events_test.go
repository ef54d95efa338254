package wire

import (
	"encoding/json"
	"testing"
)

func TestPlayerColorAbsentIsNull(t *testing.T) {
	raw, err := json.Marshal(PlayerColorEvent(""))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"event":"playerColor","data":{"color":null}}` {
		t.Fatalf("unexpected frame: %s", raw)
	}
}

func TestEnvelopeDecodesMove(t *testing.T) {
	frame := []byte(`{"event":"move","data":{"gameId":"G1","move":{"from":"e2","to":"e4"}}}`)
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.Event != EventMove {
		t.Fatalf("event = %q", env.Event)
	}
	var req MoveRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("move: %v", err)
	}
	if req.GameID != "G1" || req.Move.From != "e2" || req.Move.To != "e4" || req.Move.Promotion != "" {
		t.Fatalf("decoded %+v", req)
	}
}
