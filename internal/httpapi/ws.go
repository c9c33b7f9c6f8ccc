package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lmoretti/elara/internal/protocol"
	"github.com/lmoretti/elara/internal/reliability"
	"github.com/lmoretti/elara/internal/session"
)

// voiceCall is the server-side handle for one active call on a websocket.
type voiceCall struct {
	lifecycle   *session.Lifecycle
	registryID  string
	userID      string
	companionID string
}

// handleVoiceWS is the signaling channel for realtime voice calls. The client
// drives the call with client_control messages and relays transport events
// (connection state, transcripts) from the realtime provider; the server runs
// the lifecycle state machine and feeds finalized transcripts into the memory
// pipeline.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if the outbound
			// queue is saturated.
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound_dropped", string(t)).Inc()
			}
		}
	}

	var call *voiceCall

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var readErr error
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.ClientControl:
			switch msg.Action {
			case "start":
				call = s.startCall(ctx, call, msg, send)
			case "end":
				s.endCall(call, send)
			}
		case protocol.ConnectionState:
			if call == nil {
				send(noActiveCallError())
				continue
			}
			call.lifecycle.HandleEvent(ctx, connectionEvent(msg))
			if msg.Status == protocol.ConnFailed {
				s.releaseCall(call)
			}
		case protocol.TranscriptDelta:
			if call == nil {
				send(noActiveCallError())
				continue
			}
			call.lifecycle.HandleEvent(ctx, session.Event{Type: session.EventTranscriptDelta, Text: msg.Text})
		case protocol.UtteranceComplete:
			if call == nil {
				send(noActiveCallError())
				continue
			}
			call.lifecycle.HandleEvent(ctx, session.Event{Type: session.EventUtteranceComplete})
		case protocol.UserTranscript:
			if call == nil {
				send(noActiveCallError())
				continue
			}
			call.lifecycle.HandleEvent(ctx, session.Event{Type: session.EventUserTranscript, Text: msg.Text})
		}
	}

	// The client is gone. A call still in flight ends now: billing stops and
	// whatever transcript is buffered gets its teardown flush.
	if call != nil && call.lifecycle.State() != session.StateEnded {
		s.endCall(call, func(any) {})
	}
	s.metrics.SessionEvents.WithLabelValues(disconnectLabel(readErr)).Inc()

	cancel()
	close(outbound)
	<-writerDone
}

func (s *Server) startCall(ctx context.Context, current *voiceCall, msg protocol.ClientControl, send func(any)) *voiceCall {
	if current != nil && current.lifecycle.State() != session.StateEnded {
		send(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "call_already_active",
			Detail: "end the current call before starting another",
		})
		return current
	}

	sink := s.engine.Pipeline(msg.UserID, msg.CompanionID)

	var lc *session.Lifecycle
	onState := func(state session.State, cause error) {
		var sessionID string
		if lc != nil {
			sessionID = lc.SessionID()
		}
		send(protocol.SessionState{
			Type:      protocol.TypeSessionState,
			SessionID: sessionID,
			State:     string(state),
		})
		s.metrics.SessionEvents.WithLabelValues(string(state)).Inc()
		if cause != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "session_error",
				Detail:    cause.Error(),
			})
		}
	}
	lc = session.NewLifecycle(msg.UserID, msg.CompanionID, s.ledger, sink, nil, onState)

	if err := lc.Start(ctx); err != nil {
		// onState already pushed the ended state with the cause.
		return current
	}

	id := s.registry.Add(msg.UserID, msg.CompanionID, lc)
	s.metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))
	return &voiceCall{
		lifecycle:   lc,
		registryID:  id,
		userID:      msg.UserID,
		companionID: msg.CompanionID,
	}
}

func (s *Server) endCall(call *voiceCall, send func(any)) {
	if call == nil {
		send(noActiveCallError())
		return
	}
	// Ledger end must not be cut short by the websocket closing.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	call.lifecycle.EndCall(ctx)
	s.releaseCall(call)
}

// releaseCall removes the call from the registry and force-flushes the
// relationship's buffered transcript.
func (s *Server) releaseCall(call *voiceCall) {
	if call == nil {
		return
	}
	s.registry.Remove(call.registryID)
	s.metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))

	ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout())
	defer cancel()
	if err := s.engine.Release(ctx, call.userID, call.companionID); err != nil {
		s.metrics.FlushEvents.WithLabelValues("teardown_failure").Inc()
	}
}

func connectionEvent(msg protocol.ConnectionState) session.Event {
	switch msg.Status {
	case protocol.ConnHandshakeOK:
		return session.Event{Type: session.EventHandshakeOK}
	case protocol.ConnDisrupted:
		return session.Event{Type: session.EventDisrupted, Code: msg.Code, Detail: msg.Detail}
	case protocol.ConnRecovered:
		return session.Event{Type: session.EventRecovered}
	default:
		return session.Event{Type: session.EventFatal, Code: msg.Code, Detail: msg.Detail}
	}
}

func noActiveCallError() protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		Code:   "no_active_call",
		Detail: "send client_control start first",
	}
}

func disconnectLabel(err error) string {
	var closeErr *websocket.CloseError
	switch {
	case err == nil:
		return "ws_disconnected"
	case errors.As(err, &closeErr) && reliability.IsTransientTransportClose(closeErr.Code):
		return "ws_disconnected_transient"
	default:
		return "ws_disconnected_abnormal"
	}
}
