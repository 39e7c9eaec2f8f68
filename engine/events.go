package engine

import (
	"errors"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// DefaultEventBuffer is the number of undelivered events held per subscriber.
const DefaultEventBuffer = 256

// ErrSubscriberTooSlow ends a subscription whose undelivered events exceeded
// the engine's event buffer.
var ErrSubscriberTooSlow = errors.New("event subscriber too slow")

// EventType names the operation that produced an Event.
type EventType string

const (
	EventInitialize EventType = "initialize"
	EventProvide    EventType = "provide"
	EventRemove     EventType = "remove"
	EventSwap       EventType = "swap"
)

// Event describes one committed operation and the pool state it produced.
type Event struct {
	// Sequence increases by one for every committed operation across all pools.
	Sequence uint64         `json:"sequence"`
	Type     EventType      `json:"type"`
	Pool     *clmm.Pool     `json:"pool"`
	Account  common.Address `json:"account"`
	// Position is set for provide and remove events.
	Position  *clmm.Position  `json:"position,omitempty"`
	Transfers []clmm.Transfer `json:"transfers,omitempty"`
	// Timestamp is the commit time in unix nanoseconds.
	Timestamp int64 `json:"timestamp"`
}

type subscriber struct {
	queue   chan Event
	dropped chan struct{}
}

// SubscribeEvents delivers every committed operation to ch in sequence order.
//
// Operations never wait for subscribers. Events are queued per subscriber and
// a subscriber that falls more than the event buffer behind is dropped; its
// subscription then fails with ErrSubscriberTooSlow.
func (e *Engine) SubscribeEvents(ch chan<- Event) event.Subscription {
	s := &subscriber{
		queue:   make(chan Event, e.eventBuffer),
		dropped: make(chan struct{}),
	}
	e.eventsMu.Lock()
	e.subscribers[s] = struct{}{}
	e.eventsMu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer e.unsubscribe(s)
		for {
			select {
			case <-s.dropped:
				return ErrSubscriberTooSlow
			default:
			}
			select {
			case ev := <-s.queue:
				select {
				case ch <- ev:
				case <-s.dropped:
					return ErrSubscriberTooSlow
				case <-quit:
					return nil
				}
			case <-s.dropped:
				return ErrSubscriberTooSlow
			case <-quit:
				return nil
			}
		}
	})
}

// Sequence returns the sequence number of the last emitted event.
func (e *Engine) Sequence() uint64 {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	return e.sequence
}

func (e *Engine) unsubscribe(s *subscriber) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	delete(e.subscribers, s)
}

// emit numbers ev and queues it for every subscriber without blocking.
// Callers hold the pool lock, so events of one pool are numbered in commit order.
func (e *Engine) emit(ev Event) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	e.sequence++
	ev.Sequence = e.sequence
	ev.Timestamp = e.now().UnixNano()

	for s := range e.subscribers {
		select {
		case s.queue <- ev:
		default:
			delete(e.subscribers, s)
			close(s.dropped)
			e.metrics.droppedSubscribers.Inc()
			e.logger.Warn("Dropping slow event subscriber", "sequence", ev.Sequence, "buffer", cap(s.queue))
		}
	}
}
