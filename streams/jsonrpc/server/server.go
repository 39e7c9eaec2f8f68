// Package server exposes an engine over JSON-RPC, including a websocket
// subscription that streams pool changes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// Namespace is the namespace under which the API is registered.
	Namespace = "clmm"
	// EventsSubscriptionMethod is the subscription name streaming engine events.
	EventsSubscriptionMethod = "subscribeEvents"

	// EventTypeSnapshot carries every pool and the sequence it reflects.
	EventTypeSnapshot = "snapshot"
	// EventTypeEvent carries one engine.Event.
	EventTypeEvent = "event"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the API.
type Config struct {
	Engine *engine.Engine
	Logger Logger
	// BufferSize is the number of engine events held per subscriber while
	// they are being written to the connection.
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Engine == nil {
		return errors.New("config: Engine is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	return nil
}

// SubscriptionEvent is the wrapper object sent to subscribers.
type SubscriptionEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	SentAt  int64  `json:"sentAt"`
}

// Snapshot is the payload of a snapshot event. Events with a sequence at or
// below Sequence are already reflected in Pools.
type Snapshot struct {
	Sequence uint64       `json:"sequence"`
	Pools    []*clmm.Pool `json:"pools"`
}

// PendingFees is the result of clmm_pendingFees.
type PendingFees struct {
	FeesA uint64 `json:"feesA"`
	FeesB uint64 `json:"feesB"`
}

// API is the clmm JSON-RPC service.
type API struct {
	engine     *engine.Engine
	logger     Logger
	bufferSize uint
}

// NewAPI creates the service from a configuration.
func NewAPI(cfg Config) (*API, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &API{engine: cfg.Engine, logger: cfg.Logger, bufferSize: cfg.BufferSize}, nil
}

// NewServer creates an RPC server with api registered under Namespace.
func NewServer(api *API) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, api); err != nil {
		return nil, fmt.Errorf("failed to register API: %w", err)
	}
	return server, nil
}

// Handler serves websocket upgrades and plain HTTP JSON-RPC on the same path.
func Handler(server *rpc.Server, allowedOrigins []string) http.Handler {
	ws := server.WebsocketHandler(allowedOrigins)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			ws.ServeHTTP(w, r)
			return
		}
		server.ServeHTTP(w, r)
	})
}

func (api *API) InitializePool(ctx context.Context, params engine.InitializePoolParams) (*clmm.Pool, error) {
	return api.engine.InitializePool(ctx, params)
}

func (api *API) ProvideLiquidity(ctx context.Context, params engine.ProvideLiquidityParams) (*engine.ProvideLiquidityResult, error) {
	return api.engine.ProvideLiquidity(ctx, params)
}

func (api *API) RemoveLiquidity(ctx context.Context, params engine.RemoveLiquidityParams) (*engine.RemoveLiquidityResult, error) {
	return api.engine.RemoveLiquidity(ctx, params)
}

func (api *API) Swap(ctx context.Context, params engine.SwapParams) (*engine.SwapResult, error) {
	return api.engine.Swap(ctx, params)
}

func (api *API) Quote(ctx context.Context, params engine.SwapParams) (*engine.SwapResult, error) {
	return api.engine.Quote(ctx, params)
}

func (api *API) Pool(ctx context.Context, poolID common.Hash) (*clmm.Pool, error) {
	return api.engine.Pool(ctx, poolID)
}

func (api *API) PoolFor(ctx context.Context, tokenA, tokenB common.Address) (*clmm.Pool, error) {
	return api.engine.PoolFor(ctx, tokenA, tokenB)
}

func (api *API) Pools(ctx context.Context) ([]*clmm.Pool, error) {
	return api.engine.Pools(ctx)
}

func (api *API) Ticks(ctx context.Context, poolID common.Hash) ([]*clmm.Tick, error) {
	return api.engine.Ticks(ctx, poolID)
}

func (api *API) Position(ctx context.Context, positionID common.Hash) (*clmm.Position, error) {
	return api.engine.Position(ctx, positionID)
}

func (api *API) Positions(ctx context.Context, poolID common.Hash) ([]*clmm.Position, error) {
	return api.engine.Positions(ctx, poolID)
}

func (api *API) PendingFees(ctx context.Context, positionID common.Hash) (*PendingFees, error) {
	feesA, feesB, err := api.engine.PendingFees(ctx, positionID)
	if err != nil {
		return nil, err
	}
	return &PendingFees{FeesA: feesA, FeesB: feesB}, nil
}

// SubscribeEvents sends a snapshot of every pool followed by each committed
// engine event. A subscriber that falls behind the engine is sent a fresh
// snapshot and continues from there.
func (api *API) SubscribeEvents(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	feed, err := api.attach(ctx)
	if err != nil {
		return nil, err
	}

	rpcSub := notifier.CreateSubscription()
	go func() {
		for {
			err := api.stream(notifier, rpcSub, feed)
			feed.sub.Unsubscribe()
			if !errors.Is(err, engine.ErrSubscriberTooSlow) {
				return
			}
			api.logger.Warn("Subscriber fell behind, resending snapshot", "id", rpcSub.ID)
			if feed, err = api.attach(context.Background()); err != nil {
				api.logger.Error("Failed to resync subscriber", "id", rpcSub.ID, "error", err)
				return
			}
		}
	}()
	return rpcSub, nil
}

// eventFeed is an engine subscription together with the snapshot it starts from.
type eventFeed struct {
	sub      event.Subscription
	events   chan engine.Event
	snapshot *Snapshot
}

// attach subscribes to the engine before reading the snapshot, so no event
// falls in between.
func (api *API) attach(ctx context.Context) (*eventFeed, error) {
	events := make(chan engine.Event, api.bufferSize)
	sub := api.engine.SubscribeEvents(events)

	sequence := api.engine.Sequence()
	pools, err := api.engine.Pools(ctx)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return &eventFeed{
		sub:      sub,
		events:   events,
		snapshot: &Snapshot{Sequence: sequence, Pools: pools},
	}, nil
}

// stream writes the feed's snapshot and then its events until the subscriber
// detaches or the engine subscription ends, returning the engine's error.
func (api *API) stream(notifier *rpc.Notifier, rpcSub *rpc.Subscription, feed *eventFeed) error {
	snapshot := &SubscriptionEvent{
		Type:    EventTypeSnapshot,
		Payload: feed.snapshot,
		SentAt:  time.Now().UnixNano(),
	}
	if err := notifier.Notify(rpcSub.ID, snapshot); err != nil {
		api.logger.Error("Error notifying subscriber", "id", rpcSub.ID, "error", err)
		return nil
	}
	api.logger.Debug("Snapshot sent", "id", rpcSub.ID, "pools", len(feed.snapshot.Pools), "sequence", feed.snapshot.Sequence)

	for {
		select {
		case ev := <-feed.events:
			msg := &SubscriptionEvent{Type: EventTypeEvent, Payload: ev, SentAt: time.Now().UnixNano()}
			if err := notifier.Notify(rpcSub.ID, msg); err != nil {
				api.logger.Error("Error notifying subscriber", "id", rpcSub.ID, "error", err)
				return nil
			}
		case err := <-feed.sub.Err():
			return err
		case <-rpcSub.Err():
			api.logger.Debug("Subscriber detached", "id", rpcSub.ID)
			return nil
		}
	}
}
