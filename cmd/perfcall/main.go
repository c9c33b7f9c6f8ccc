// perfcall replays a synthetic voice call against a running elara instance and
// reports how long the memory pipeline takes to absorb it. It drives the same
// websocket signaling channel real clients use, so numbers include transport
// overhead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lmoretti/elara/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	companionID    string
	exchanges      int
	interTurnDelay time.Duration
	stateTimeout   time.Duration
	texts          []string
	verbose        bool
}

var defaultExchanges = []string{
	"I finally booked the Lisbon trip for next month.",
	"Work has been rough, the launch slipped again.",
	"My sister Sam is visiting this weekend.",
	"I tried that ramen place you mentioned, it was great.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfcall: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfcall: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var stateTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "elara base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic call")
	flag.StringVar(&cfg.companionID, "companion-id", "perf-companion", "companion_id used for the synthetic call")
	flag.IntVar(&cfg.exchanges, "exchanges", 8, "number of user/assistant exchanges to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 120, "delay between exchanges in milliseconds")
	flag.IntVar(&stateTimeoutMS, "state-timeout-ms", 10000, "timeout waiting for a session state change in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "user utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.exchanges <= 0 {
		return options{}, fmt.Errorf("exchanges must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if stateTimeoutMS < 1000 {
		stateTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.stateTimeout = time.Duration(stateTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultExchanges...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	wsURL, err := wsVoiceURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	callStart := time.Now()
	if err := conn.WriteJSON(protocol.ClientControl{
		Type:        protocol.TypeClientControl,
		Action:      "start",
		UserID:      cfg.userID,
		CompanionID: cfg.companionID,
	}); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	if err := awaitState(conn, "connecting", cfg.stateTimeout); err != nil {
		return err
	}
	if err := conn.WriteJSON(protocol.ConnectionState{
		Type:   protocol.TypeConnectionState,
		Status: protocol.ConnHandshakeOK,
	}); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}
	if err := awaitState(conn, "connected", cfg.stateTimeout); err != nil {
		return err
	}
	if cfg.verbose {
		fmt.Printf("perfcall: connected in %s\n", time.Since(callStart).Round(time.Millisecond))
	}

	for i := 0; i < cfg.exchanges; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("perfcall: exchange %d/%d text=%q\n", i+1, cfg.exchanges, text)
		}
		if err := sendExchange(conn, text); err != nil {
			return fmt.Errorf("exchange %d: %w", i+1, err)
		}
		if cfg.interTurnDelay > 0 && i < cfg.exchanges-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	endStart := time.Now()
	if err := conn.WriteJSON(protocol.ClientControl{
		Type:   protocol.TypeClientControl,
		Action: "end",
	}); err != nil {
		return fmt.Errorf("send end: %w", err)
	}
	if err := awaitState(conn, "ended", cfg.stateTimeout); err != nil {
		return err
	}
	if cfg.verbose {
		fmt.Printf("perfcall: call ended in %s (includes teardown flush)\n", time.Since(endStart).Round(time.Millisecond))
	}

	return printPerfSnapshot(ctx, cfg.baseURL)
}

// sendExchange replays one user utterance plus a two-fragment assistant reply.
func sendExchange(conn *websocket.Conn, text string) error {
	messages := []any{
		protocol.UserTranscript{Type: protocol.TypeUserTranscript, Text: text},
		protocol.TranscriptDelta{Type: protocol.TypeTranscriptDelta, Text: "Tell me more "},
		protocol.TranscriptDelta{Type: protocol.TypeTranscriptDelta, Text: "about that."},
		protocol.UtteranceComplete{Type: protocol.TypeUtteranceComplete},
	}
	for _, msg := range messages {
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// awaitState reads until the server pushes the wanted session state. Error
// events fail the run; other message types are skipped.
func awaitState(conn *websocket.Conn, want string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg struct {
			Type   string `json:"type"`
			State  string `json:"state"`
			Code   string `json:"code"`
			Detail string `json:"detail"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await state %q: %w", want, err)
		}
		switch msg.Type {
		case "session_state":
			if msg.State == want {
				return nil
			}
		case "error_event":
			return fmt.Errorf("await state %q: server error %s: %s", want, msg.Code, msg.Detail)
		}
	}
}

func wsVoiceURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/voice"
	return u.String(), nil
}

func printPerfSnapshot(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/perf", nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch perf snapshot: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var snap struct {
		Stages []struct {
			Stage       string  `json:"stage"`
			Samples     int     `json:"samples"`
			P50MS       float64 `json:"p50_ms"`
			P95MS       float64 `json:"p95_ms"`
			TargetP95MS float64 `json:"target_p95_ms"`
		} `json:"stages"`
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("decode perf snapshot: %w", err)
	}
	if len(snap.Stages) == 0 {
		fmt.Println("perfcall: no pipeline stages recorded yet (call was below the flush threshold?)")
		return nil
	}
	for _, s := range snap.Stages {
		line := fmt.Sprintf("perfcall: stage=%s samples=%d p50=%.0fms p95=%.0fms", s.Stage, s.Samples, s.P50MS, s.P95MS)
		if s.TargetP95MS > 0 {
			line += fmt.Sprintf(" target_p95=%.0fms", s.TargetP95MS)
		}
		fmt.Println(line)
	}
	return nil
}
