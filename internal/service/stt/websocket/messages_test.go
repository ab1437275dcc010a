package websocket

import (
	"encoding/json"
	"testing"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"turn", `{"type":"Turn","turn_order":3,"end_of_turn":true,"words":[]}`, TypeTurn, false},
		{"begin", `{"type":"Begin","id":"s1","expires_at":10}`, TypeBegin, false},
		{"termination", `{"type":"Termination","audio_duration_seconds":3.5}`, TypeTermination, false},
		{"error", `{"type":"Error","error":"bad key"}`, TypeError, false},
		{"unknown type", `{"type":"PartialTranscript"}`, "", true},
		{"missing type", `{"turn_order":1}`, "", true},
		{"not json", `hello`, "", true},
		{"wrong field type", `{"type":"Turn","turn_order":"one"}`, "", true},
		{"negative order", `{"type":"Turn","turn_order":-2}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := msg.messageType(); got != tt.want {
				t.Errorf("messageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMessage_TurnFields(t *testing.T) {
	payload := `{"type":"Turn","turn_order":2,"turn_is_formatted":true,"end_of_turn":true,
		"transcript":"Hi there.","end_of_turn_confidence":0.8,
		"words":[{"text":"Hi","start":0,"end":200,"confidence":0.9,"word_is_final":true},
		         {"text":"there.","start":210,"end":500,"confidence":0.7,"word_is_final":false}]}`

	msg, err := ParseMessage([]byte(payload))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	turn, ok := msg.(*TurnMessage)
	if !ok {
		t.Fatalf("message = %T, want *TurnMessage", msg)
	}
	if turn.TurnOrder != 2 || !turn.EndOfTurn || !turn.Formatted {
		t.Errorf("turn header = %+v", turn.TurnEvent)
	}
	if turn.Transcript != "Hi there." || turn.EndOfTurnConfidence != 0.8 {
		t.Errorf("transcript = %q confidence = %v", turn.Transcript, turn.EndOfTurnConfidence)
	}
	if len(turn.Words) != 2 || !turn.Words[0].IsFinal || turn.Words[1].IsFinal {
		t.Errorf("words = %+v", turn.Words)
	}
	if turn.Words[0].End != 200 {
		t.Errorf("words[0].End = %d, want 200", turn.Words[0].End)
	}
}

func TestControlMessages(t *testing.T) {
	var stop struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	if err := json.Unmarshal(encodeControl(typeStop), &stop); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stop.Type != "stop" || stop.Data != "" {
		t.Errorf("stop = %+v", stop)
	}
	if string(encodeControl(typeStop)) != `{"type":"stop"}` {
		t.Errorf("stop encodes as %s", encodeControl(typeStop))
	}

	var audio struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	if err := json.Unmarshal(encodeAudioText([]byte{1, 2, 3}), &audio); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if audio.Type != "audio" || audio.Data != "AQID" {
		t.Errorf("audio = %+v", audio)
	}
}
