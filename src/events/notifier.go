package events

import (
	"time"

	logger "github.com/sirupsen/logrus"
)

// Event types emitted by the core. Delivery mechanics are the sink's
// concern; the core only guarantees it never blocks on a slow consumer.
const (
	TypeTradeExecuted         = "trade_executed"
	TypeBotPaused             = "bot_paused"
	TypeBotResumed            = "bot_resumed"
	TypeBotQuarantined        = "bot_quarantined"
	TypeCircuitBreakerTripped = "circuit_breaker_tripped"
	TypeReinvestmentCompleted = "reinvestment_completed"
	TypeProfitUpdated         = "profit_updated"
)

// Event is one typed notification carrying the affected entity and a
// human-readable reason.
type Event struct {
	Type      string         `json:"type"`
	UserID    uint           `json:"user_id,omitempty"`
	BotID     uint           `json:"bot_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives dispatched events. The websocket hub is one; tests use a
// recording sink.
type Sink interface {
	Deliver(event Event)
}

// Notifier decouples core correctness from delivery: Emit enqueues on a
// buffered channel and drops (with a warning) when the buffer is full; a
// single dispatcher goroutine fans events out to the sinks.
type Notifier struct {
	ch    chan Event
	sinks []Sink
	done  chan struct{}
}

func NewNotifier(buffer int, sinks ...Sink) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}

	n := &Notifier{
		ch:    make(chan Event, buffer),
		sinks: sinks,
		done:  make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// Emit enqueues an event without ever blocking the caller.
func (n *Notifier) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case n.ch <- event:
	default:
		logger.WithFields(map[string]interface{}{
			"type":   event.Type,
			"bot_id": event.BotID,
		}).Warn("event buffer full, dropping event")
	}
}

// Close stops the dispatcher after draining what is already queued.
func (n *Notifier) Close() {
	close(n.ch)
	<-n.done
}

func (n *Notifier) dispatch() {
	defer close(n.done)
	for event := range n.ch {
		for _, sink := range n.sinks {
			sink.Deliver(event)
		}
	}
}
