package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const maxEventBody = 1 << 20 // Slack event payloads are small

// WebhookTransport receives events over the Events API HTTP callback.
// Each request is verified against the signing secret, answered
// immediately, and its event enqueued; the platform's three-second
// response budget is never spent on handlers.
type WebhookTransport struct {
	addr    string
	path    string
	secret  string
	log     *slog.Logger
	deliver func(Event)
}

// NewWebhookTransport creates a transport listening on addr at path
// (default "/slack/events"). The signing secret must match the app's.
func NewWebhookTransport(addr, path, secret string, log *slog.Logger) *WebhookTransport {
	if path == "" {
		path = "/slack/events"
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebhookTransport{addr: addr, path: path, secret: secret, log: log}
}

// Name identifies the transport in logs.
func (t *WebhookTransport) Name() string { return "webhook" }

// Run serves the callback endpoint until ctx is canceled.
func (t *WebhookTransport) Run(ctx context.Context, deliver func(Event)) error {
	t.deliver = deliver

	mux := http.NewServeMux()
	mux.HandleFunc(t.path, t.handle)
	srv := &http.Server{
		Addr:              t.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return errors.New("webhook server closed")
		}
		return err
	}
}

// ServeHTTP allows mounting the transport on an existing server.
func (t *WebhookTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.handle(w, r)
}

func (t *WebhookTransport) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !t.verify(r.Header, body) {
		t.log.Warn("rejecting unsigned event callback", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	outer, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		t.log.Warn("unparseable event callback", "error", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch outer.Type {
	case slackevents.URLVerification:
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &ch); err != nil {
			http.Error(w, "bad challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(ch.Challenge))
	case slackevents.CallbackEvent:
		if ev, ok := FromCallback(outer); ok && t.deliver != nil {
			t.deliver(ev)
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// verify checks the v0 request signature. The verifier also rejects
// timestamps outside the five-minute freshness window.
func (t *WebhookTransport) verify(h http.Header, body []byte) bool {
	v, err := slackgo.NewSecretsVerifier(h, t.secret)
	if err != nil {
		return false
	}
	if _, err := v.Write(body); err != nil {
		return false
	}
	return v.Ensure() == nil
}
