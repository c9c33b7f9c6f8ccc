package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const httpLedgerTimeout = 10 * time.Second

// HTTPLedger reports usage intervals to a remote ledger service.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLedger(baseURL string) *HTTPLedger {
	return &HTTPLedger{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: httpLedgerTimeout,
		},
	}
}

type startRequest struct {
	UserID      string `json:"user_id"`
	CompanionID string `json:"companion_id"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

type endRequest struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	MinutesUsed int    `json:"minutes_used"`
}

func (l *HTTPLedger) Start(ctx context.Context, userID, companionID string) (string, error) {
	body, err := l.post(ctx, "/v1/usage/start", startRequest{UserID: userID, CompanionID: companionID})
	if err != nil {
		return "", fmt.Errorf("ledger start: %w", err)
	}

	var res startResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("ledger start: decode response: %w", err)
	}
	if strings.TrimSpace(res.SessionID) == "" {
		return "", errors.New("ledger start: empty session_id in response")
	}
	return res.SessionID, nil
}

func (l *HTTPLedger) End(ctx context.Context, sessionID, userID string, minutesUsed int) error {
	_, err := l.post(ctx, "/v1/usage/end", endRequest{SessionID: sessionID, UserID: userID, MinutesUsed: minutesUsed})
	if err != nil {
		return fmt.Errorf("ledger end: %w", err)
	}
	return nil
}

func (l *HTTPLedger) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("ledger http status %d: %s", res.StatusCode, string(body))
	}
	return body, nil
}
