package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the voice channel.
type MessageType string

const (
	TypeClientControl     MessageType = "client_control"
	TypeConnectionState   MessageType = "connection_state"
	TypeTranscriptDelta   MessageType = "transcript_delta"
	TypeUtteranceComplete MessageType = "utterance_complete"
	TypeUserTranscript    MessageType = "user_transcript"
	TypeSessionState      MessageType = "session_state"
	TypeErrorEvent        MessageType = "error_event"
)

// Connection status values carried by ConnectionState messages.
const (
	ConnHandshakeOK = "handshake_ok"
	ConnDisrupted   = "disrupted"
	ConnRecovered   = "recovered"
	ConnFailed      = "failed"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl starts or ends a voice call.
type ClientControl struct {
	Type        MessageType `json:"type"`
	Action      string      `json:"action"`
	UserID      string      `json:"user_id"`
	CompanionID string      `json:"companion_id"`
}

// ConnectionState reports a transport connection-state change.
type ConnectionState struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
	Code   int         `json:"code,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// TranscriptDelta carries a partial assistant transcript fragment.
type TranscriptDelta struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

// UtteranceComplete marks the end of one assistant utterance.
type UtteranceComplete struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

// UserTranscript carries one finalized fragment of user speech.
type UserTranscript struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

// SessionState is pushed to the client on every lifecycle transition.
type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

// ErrorEvent notifies the client of a fatal session error.
type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

// ParseClientMessage decodes and validates one inbound voice-channel message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action != "start" && msg.Action != "end" {
			return nil, errors.New("invalid client_control action")
		}
		if msg.Action == "start" && (msg.UserID == "" || msg.CompanionID == "") {
			return nil, errors.New("client_control start requires user_id and companion_id")
		}
		return msg, nil
	case TypeConnectionState:
		var msg ConnectionState
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Status {
		case ConnHandshakeOK, ConnDisrupted, ConnRecovered, ConnFailed:
			return msg, nil
		default:
			return nil, errors.New("invalid connection_state status")
		}
	case TypeTranscriptDelta:
		var msg TranscriptDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUtteranceComplete:
		var msg UtteranceComplete
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUserTranscript:
		var msg UserTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("user_transcript requires text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
