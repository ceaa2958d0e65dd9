package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

// sign produces the v0 signature headers Slack sends with a callback.
func sign(t *testing.T, req *http.Request, body string) {
	t.Helper()
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Content-Type", "application/json")
}

func postEvent(t *testing.T, tr *WebhookTransport, body string, doSign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	if doSign {
		sign(t, req, body)
	}
	w := httptest.NewRecorder()
	tr.ServeHTTP(w, req)
	return w
}

func TestWebhookURLVerification(t *testing.T) {
	tr := NewWebhookTransport(":0", "", testSigningSecret, discardLogger())
	body := `{"type":"url_verification","challenge":"pick-me","token":"ignored"}`

	w := postEvent(t, tr, body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp, _ := io.ReadAll(w.Result().Body)
	if string(resp) != "pick-me" {
		t.Errorf("challenge response = %q, want %q", resp, "pick-me")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	tr := NewWebhookTransport(":0", "", testSigningSecret, discardLogger())
	delivered := 0
	tr.deliver = func(Event) { delivered++ }

	body := `{"type":"event_callback","event_id":"Ev1","event":{"type":"message","channel":"C1","user":"U1","ts":"1.000","text":"hi"}}`

	// No signature headers at all.
	if w := postEvent(t, tr, body, false); w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request status = %d, want 401", w.Code)
	}

	// A valid-looking but wrong signature.
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Slack-Signature", "v0="+strings.Repeat("ab", 32))
	w := httptest.NewRecorder()
	tr.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("forged request status = %d, want 401", w.Code)
	}

	if delivered != 0 {
		t.Errorf("delivered %d events from rejected requests, want 0", delivered)
	}
}

func TestWebhookDeliversCallback(t *testing.T) {
	tr := NewWebhookTransport(":0", "", testSigningSecret, discardLogger())
	var got []Event
	tr.deliver = func(ev Event) { got = append(got, ev) }

	body := `{
		"type":"event_callback",
		"event_id":"Ev123",
		"event":{"type":"message","channel":"C42","user":"U7","ts":"1700000000.000100","text":"hello there"}
	}`
	w := postEvent(t, tr, body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.ID != "Ev123" || ev.Kind != KindMessage || ev.Channel != "C42" || ev.Text != "hello there" {
		t.Errorf("event = %+v, want Ev123 message in C42", ev)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	tr := NewWebhookTransport(":0", "", testSigningSecret, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/slack/events", nil)
	w := httptest.NewRecorder()
	tr.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", w.Code)
	}
}
