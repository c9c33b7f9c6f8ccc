package main

import "testing"

func TestWSVoiceURL(t *testing.T) {
	got, err := wsVoiceURL("http://127.0.0.1:8080")
	if err != nil {
		t.Fatalf("wsVoiceURL() error = %v", err)
	}
	if got != "ws://127.0.0.1:8080/ws/voice" {
		t.Fatalf("wsVoiceURL() = %q", got)
	}

	got, err = wsVoiceURL("https://elara.example.com")
	if err != nil {
		t.Fatalf("wsVoiceURL() error = %v", err)
	}
	if got != "wss://elara.example.com/ws/voice" {
		t.Fatalf("wsVoiceURL() = %q", got)
	}

	if _, err := wsVoiceURL("ftp://elara.example.com"); err == nil {
		t.Fatal("wsVoiceURL() accepted unsupported scheme")
	}
}
