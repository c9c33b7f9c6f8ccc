package session

// State is the connection state of one realtime voice session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateEnded        State = "ended"
)

// EventType identifies transport event variants consumed by a Lifecycle.
type EventType string

const (
	// EventHandshakeOK reports a successful transport handshake.
	EventHandshakeOK EventType = "handshake_ok"
	// EventDisrupted reports a transient, non-fatal transport disruption.
	EventDisrupted EventType = "disrupted"
	// EventRecovered reports transport recovery after a disruption.
	EventRecovered EventType = "recovered"
	// EventFatal reports an unrecoverable transport failure or close.
	EventFatal EventType = "fatal"
	// EventTranscriptDelta carries a partial assistant transcript fragment.
	EventTranscriptDelta EventType = "transcript_delta"
	// EventUtteranceComplete marks the end of one assistant utterance.
	EventUtteranceComplete EventType = "utterance_complete"
	// EventUserTranscript carries one finalized user speech fragment.
	EventUserTranscript EventType = "user_transcript"
)

// Event is one tagged transport event. Only the fields relevant to the type
// are populated.
type Event struct {
	Type   EventType
	Text   string
	Code   int
	Detail string
}

// TurnSink receives finalized transcript turns from a voice session.
type TurnSink interface {
	AddTurn(role, content string)
}
