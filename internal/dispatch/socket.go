package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SocketTransport receives events over Socket Mode. The platform
// allows a limited number of concurrent sockets per app, so transports
// are registered per app token and reused rather than duplicated.
type SocketTransport struct {
	api *slackgo.Client
	log *slog.Logger
}

var socketRegistry = struct {
	mu      sync.Mutex
	byToken map[string]*SocketTransport
}{byToken: make(map[string]*SocketTransport)}

// NewSocketTransport returns the transport for the given app token,
// creating it on first use. The api client must carry the app-level
// token (slack.OptionAppLevelToken).
func NewSocketTransport(api *slackgo.Client, appToken string, log *slog.Logger) *SocketTransport {
	if log == nil {
		log = slog.Default()
	}
	socketRegistry.mu.Lock()
	defer socketRegistry.mu.Unlock()
	if t, ok := socketRegistry.byToken[appToken]; ok {
		return t
	}
	t := &SocketTransport{api: api, log: log}
	socketRegistry.byToken[appToken] = t
	return t
}

// Name identifies the transport in logs.
func (s *SocketTransport) Name() string { return "socket" }

// Run opens the socket and pumps events until the connection drops or
// ctx is canceled. Every Events API envelope is acked before handling;
// processing time never risks a redelivery timeout.
func (s *SocketTransport) Run(ctx context.Context, deliver func(Event)) error {
	client := socketmode.New(s.api)

	errCh := make(chan error, 1)
	go func() { errCh <- client.RunContext(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err == nil {
				err = errors.New("socket closed")
			}
			return err
		case evt, ok := <-client.Events:
			if !ok {
				return errors.New("socket event stream closed")
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				s.log.Info("socket connecting")
			case socketmode.EventTypeConnected:
				s.log.Info("socket connected")
			case socketmode.EventTypeConnectionError:
				s.log.Warn("socket connection error", "data", evt.Data)
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				outer, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if ev, ok := FromCallback(outer); ok {
					deliver(ev)
				}
			}
		}
	}
}
