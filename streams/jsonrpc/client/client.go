package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/server"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// SubscriptionEvent is the envelope of every subscription message. Payload
// is decoded according to Type.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// StreamProcessor parses subscription messages, keeps the latest state of
// every pool and publishes a State per applied message. It does no I/O, so
// tests drive it directly.
type StreamProcessor struct {
	pools    map[common.Hash]*clmm.Pool
	sequence uint64
	synced   bool
	stateCh  chan *State
	logger   Logger
}

// NewStreamProcessor returns a processor whose state channel holds up to
// bufferSize unread states.
func NewStreamProcessor(logger Logger, bufferSize uint) *StreamProcessor {
	return &StreamProcessor{
		logger:  logger,
		stateCh: make(chan *State, bufferSize),
	}
}

// State returns the channel of published states.
func (sp *StreamProcessor) State() <-chan *State {
	return sp.stateCh
}

// ProcessMessage applies one subscription message. Events older than the
// current sequence are ignored.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	start := time.Now()
	var msg SubscriptionEvent
	if err := json.Unmarshal(rawData, &msg); err != nil {
		return fmt.Errorf("decode subscription message: %w", err)
	}

	switch msg.Type {
	case server.EventTypeSnapshot:
		return sp.handleSnapshot(msg, start)
	case server.EventTypeEvent:
		return sp.handleEvent(msg, start)
	}
	return fmt.Errorf("unknown message type %q", msg.Type)
}

func (sp *StreamProcessor) handleSnapshot(event SubscriptionEvent, start time.Time) error {
	var snapshot server.Snapshot
	if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	pools := make(map[common.Hash]*clmm.Pool, len(snapshot.Pools))
	for _, p := range snapshot.Pools {
		if p == nil {
			return errors.New("snapshot contains a nil pool")
		}
		pools[p.ID] = p
	}
	sp.pools = pools
	sp.sequence = snapshot.Sequence
	sp.synced = true

	sp.logMetrics(time.Since(start), event.SentAt, event.Type)
	sp.publish(nil)
	return nil
}

func (sp *StreamProcessor) handleEvent(event SubscriptionEvent, start time.Time) error {
	var ev engine.Event
	if err := json.Unmarshal(event.Payload, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if !sp.synced {
		return fmt.Errorf("received event before snapshot; sequence: %d", ev.Sequence)
	}
	if ev.Pool == nil {
		return fmt.Errorf("event %d carries no pool", ev.Sequence)
	}

	if ev.Sequence <= sp.sequence {
		sp.logger.Debug("Discarding event already reflected in state",
			"last_known_sequence", sp.sequence,
			"event_sequence", ev.Sequence,
		)
		return nil
	}
	if ev.Sequence != sp.sequence+1 {
		// events carry the whole pool, so the state stays usable
		sp.logger.Warn("Sequence gap in event stream; pools touched by missed events may be stale.",
			"last_known_sequence", sp.sequence,
			"event_sequence", ev.Sequence,
		)
	}

	sp.pools[ev.Pool.ID] = ev.Pool
	sp.sequence = ev.Sequence

	sp.logMetrics(time.Since(start), event.SentAt, string(ev.Type))
	sp.publish(&ev)
	return nil
}

// publish sends a copy of the current state. Pools themselves are replaced,
// never mutated, so sharing them between states is safe.
func (sp *StreamProcessor) publish(ev *engine.Event) {
	sp.stateCh <- &State{
		Sequence: sp.sequence,
		Pools:    maps.Clone(sp.pools),
		Event:    ev,
	}
}

func (sp *StreamProcessor) logMetrics(took time.Duration, sentAt int64, kind string) {
	received := time.Now().Add(-took)
	sp.logger.Debug("Applied message",
		"sequence", sp.sequence,
		"type", kind,
		"pools", len(sp.pools),
		"transport_ms", received.Sub(time.Unix(0, sentAt)).Milliseconds(),
		"apply_ms", took.Milliseconds(),
	)
}

// Client owns the websocket connection and hands every received message to
// a StreamProcessor. Broken connections are redialed with exponential backoff.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient validates cfg and starts streaming in the background until ctx
// ends.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		processor: NewStreamProcessor(cfg.Logger, cfg.BufferSize),
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}
	go c.run(ctx, cfg.URL)
	return c, nil
}

// State returns the channel of published states.
func (c *Client) State() <-chan *State {
	return c.processor.State()
}

// Err is closed when the client stops. Connection failures are retried and
// never reported here.
func (c *Client) Err() <-chan error {
	return c.errCh
}

type backoff struct {
	next time.Duration
}

func (b *backoff) reset() { b.next = initialReconnectDelay }

// wait sleeps for the current delay, doubling it up to the cap. It reports
// false when ctx ends first.
func (b *backoff) wait(ctx context.Context) bool {
	t := time.NewTimer(b.next)
	defer t.Stop()
	b.next = min(b.next*2, maxReconnectDelay)
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	var bo backoff
	bo.reset()

	for ctx.Err() == nil {
		err := c.stream(ctx, url, &bo)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			break
		}
		c.logger.Warn("Event stream interrupted", "url", url, "error", err, "retry_in", bo.next)
		if !bo.wait(ctx) {
			break
		}
	}
	c.logger.Info("Client stopped", "url", url)
}

// stream dials url, subscribes to engine events and feeds them to the
// processor until the subscription or ctx ends. A fresh snapshot arrives on
// every subscription, so reconnecting needs no replay.
func (c *Client) stream(ctx context.Context, url string, bo *backoff) error {
	conn, err := rpc.DialContext(ctx, url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	msgs := make(chan json.RawMessage)
	sub, err := conn.Subscribe(ctx, server.Namespace, msgs, server.EventsSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	bo.reset()
	c.logger.Info("Subscribed to event stream", "url", url)
	for {
		select {
		case msg := <-msgs:
			if err := c.processor.ProcessMessage(msg); err != nil {
				c.logger.Error("Dropping malformed message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
