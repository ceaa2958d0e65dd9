package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"slackbridge/internal/slack"
)

// Handler consumes events after dedup and self-filtering. Handlers for
// the same queue key run serially; distinct keys run concurrently.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Transport delivers raw platform events. Run blocks until the
// connection fails or ctx is canceled; the dispatcher owns reconnects.
type Transport interface {
	Name() string
	Run(ctx context.Context, deliver func(Event)) error
}

// Config bounds the dispatcher's queues and reconnect behavior.
type Config struct {
	QueueSize     int           // per-worker queue depth
	DedupCapacity int           // replay window entries
	DedupMaxAge   time.Duration // replay window age bound
	ReconnectBase time.Duration // first reconnect delay
	ReconnectMax  time.Duration // reconnect delay cap
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
}

// Dispatcher receives events from a transport, drops replays and the
// bot's own messages, and fans the rest out to one worker goroutine per
// channel. Slow handling on one channel never blocks another; a full
// queue drops the event rather than stalling the transport.
type Dispatcher struct {
	handler Handler
	self    slack.Identity
	cfg     Config
	dedup   *DedupWindow
	log     *slog.Logger

	mu     sync.Mutex
	queues map[string]chan Event
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher routing to handler. self is the
// authenticated identity used to filter the bot's own traffic.
func NewDispatcher(handler Handler, self slack.Identity, cfg Config, log *slog.Logger) *Dispatcher {
	cfg.Normalize()
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		handler: handler,
		self:    self,
		cfg:     cfg,
		dedup:   NewDedupWindow(cfg.DedupCapacity, cfg.DedupMaxAge),
		log:     log,
	}
}

// Run drives the transport until ctx is canceled, reconnecting with
// jitter-free exponential backoff on failure. A connection that stayed
// up for a while resets the backoff. Returns after every worker has
// drained.
func (d *Dispatcher) Run(ctx context.Context, t Transport) error {
	d.mu.Lock()
	d.queues = make(map[string]chan Event)
	d.mu.Unlock()
	defer d.drain()

	delay := d.cfg.ReconnectBase
	for {
		started := time.Now()
		err := t.Run(ctx, d.Deliver)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("transport closed")
		}
		if time.Since(started) > time.Minute {
			delay = d.cfg.ReconnectBase
		}
		d.log.Warn("transport disconnected, reconnecting",
			"transport", t.Name(), "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > d.cfg.ReconnectMax {
			delay = d.cfg.ReconnectMax
		}
	}
}

// Deliver routes one event: replays and the bot's own messages are
// dropped, everything else is enqueued for its channel's worker.
func (d *Dispatcher) Deliver(ev Event) {
	// Dedup first so a replayed self-message does not refresh its key.
	key := ev.DedupKey()
	if !d.dedup.Remember(key) {
		d.log.Debug("dropping replayed event", "key", key)
		return
	}
	if d.isSelf(ev) {
		d.log.Debug("dropping own event", "channel", ev.Channel, "ts", ev.Timestamp)
		return
	}

	q := d.queue(ev.queueKey())
	select {
	case q <- ev:
	default:
		// Forget the key so the transport's redelivery is not mistaken
		// for a replay; the event was never processed.
		d.dedup.Forget(key)
		d.log.Warn("worker queue full, dropping event",
			"key", ev.queueKey(), "ts", ev.Timestamp)
	}
}

// isSelf reports whether the event originates from this bot. Home-tab
// opens are user actions and always pass.
func (d *Dispatcher) isSelf(ev Event) bool {
	if ev.Kind == KindHomeOpened {
		return false
	}
	if ev.User != "" && ev.User == d.self.UserID {
		return true
	}
	return ev.BotID != "" && ev.BotID == d.self.BotID
}

func (d *Dispatcher) queue(key string) chan Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queues == nil {
		// Shut down; the event goes nowhere but nothing blocks.
		return make(chan Event, 1)
	}
	if q, ok := d.queues[key]; ok {
		return q
	}
	q := make(chan Event, d.cfg.QueueSize)
	d.queues[key] = q
	d.wg.Add(1)
	go d.worker(key, q)
	return q
}

func (d *Dispatcher) worker(key string, q chan Event) {
	defer d.wg.Done()
	for ev := range q {
		// Handlers get a fresh context: the transport context is
		// already gone by the time a drain processes the tail.
		if err := d.handler.HandleEvent(context.Background(), ev); err != nil {
			d.log.Error("event handling failed",
				"key", key, "kind", string(ev.Kind), "ts", ev.Timestamp, "error", err)
		}
	}
}

// drain closes every worker queue and waits for in-flight handlers.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	for _, q := range d.queues {
		close(q)
	}
	d.queues = nil
	d.mu.Unlock()
	d.wg.Wait()
}
