package api

import (
	"encoding/json"
	"fmt"
)

// WordInfo carries per word confidence from the recognizer.
type WordInfo struct {
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
}

// TranscriptionResult is one transcript snapshot of a turn.
type TranscriptionResult struct {
	Event               string     `json:"event"`
	TurnIndex           int        `json:"turn_index"`
	WindowStart         float64    `json:"audio_window_start"`
	WindowEnd           float64    `json:"audio_window_end"`
	Transcript          string     `json:"transcript"`
	Words               []WordInfo `json:"words,omitempty"`
	EndOfTurnConfidence float64    `json:"end_of_turn_confidence"`
}

const (
	EventUpdate      = "Update"
	EventStartOfTurn = "StartOfTurn"
	EventEndOfTurn   = "EndOfTurn"
	EventTurnResumed = "TurnResumed"
)

// IsFinal indicates the service considers the turn complete.
func (r *TranscriptionResult) IsFinal() bool {
	return r.Event == EventEndOfTurn
}

const (
	MsgConnected     = "Connected"
	MsgTurnInfo      = "TurnInfo"
	MsgError         = "Error"
	MsgConfiguration = "Configuration"
)

// CloseStreamMsg is the control frame sent after the last audio chunk.
const CloseStreamMsg = `{"type":"CloseStream"}`

type ConnectedMsg struct {
	RequestID  string `json:"request_id"`
	SequenceID int    `json:"sequence_id"`
}

type ErrorMsg struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ServerMessage is a decoded inbound message. Type selects the filled field.
type ServerMessage struct {
	Type      string
	Connected *ConnectedMsg
	Turn      *TranscriptionResult
	Error     *ErrorMsg
}

// legacy schema, no type tag, the object itself is the turn payload
type flatResult struct {
	Event               string     `json:"event"`
	TurnIndex           int        `json:"turn_index"`
	WindowStart         float64    `json:"start"`
	WindowEnd           float64    `json:"timestamp"`
	Transcript          string     `json:"transcript"`
	Words               []WordInfo `json:"words"`
	EndOfTurnConfidence float64    `json:"end_of_turn_confidence"`
}

// ParseServerMessage decodes one inbound text frame.
// Messages without a type discriminator are tried against the older flat schema.
func ParseServerMessage(data []byte) (*ServerMessage, error) {
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if probe.Type == nil {
		var fr flatResult
		if err := json.Unmarshal(data, &fr); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		if fr.Event == "" {
			return nil, fmt.Errorf("no type and no event in message")
		}
		return &ServerMessage{Type: MsgTurnInfo, Turn: &TranscriptionResult{
			Event:               fr.Event,
			TurnIndex:           fr.TurnIndex,
			WindowStart:         fr.WindowStart,
			WindowEnd:           fr.WindowEnd,
			Transcript:          fr.Transcript,
			Words:               fr.Words,
			EndOfTurnConfidence: fr.EndOfTurnConfidence,
		}}, nil
	}
	switch *probe.Type {
	case MsgConnected:
		res := &ConnectedMsg{}
		if err := json.Unmarshal(data, res); err != nil {
			return nil, fmt.Errorf("decode connected: %w", err)
		}
		return &ServerMessage{Type: MsgConnected, Connected: res}, nil
	case MsgTurnInfo:
		res := &TranscriptionResult{}
		if err := json.Unmarshal(data, res); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		return &ServerMessage{Type: MsgTurnInfo, Turn: res}, nil
	case MsgError:
		res := &ErrorMsg{}
		if err := json.Unmarshal(data, res); err != nil {
			return nil, fmt.Errorf("decode error msg: %w", err)
		}
		return &ServerMessage{Type: MsgError, Error: res}, nil
	case MsgConfiguration:
		return &ServerMessage{Type: MsgConfiguration}, nil
	}
	return nil, fmt.Errorf("unknown message type '%s'", *probe.Type)
}
