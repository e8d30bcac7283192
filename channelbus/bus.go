// Package channelbus fans inbound messages from channel adapters to
// subscribers and outbound messages from subscribers to adapters, without
// ever letting a slow subscriber or adapter block the other side.
package channelbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/duskvane/aegis/internal/channel"
	"github.com/duskvane/aegis/queue"
	"go.uber.org/zap"
)

// InboundMessage is one message arriving from a channel adapter.
type InboundMessage struct {
	Channel    string    `json:"channel"`
	PeerID     string    `json:"peer_id"`
	Text       string    `json:"text"`
	AgentID    string    `json:"agent_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutboundMessage is one message to be delivered through a channel adapter.
type OutboundMessage struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Text    string `json:"text"`
	AgentID string `json:"agent_id"`
}

// Adapter is a concrete channel integration (Telegram, Slack, SMS, ...).
// Concrete adapters are out of scope; the bus only depends on this contract.
type Adapter interface {
	Name() string
	Send(ctx context.Context, msg OutboundMessage) error
}

// Registration binds an adapter to the set of agent IDs allowed to use it.
type Registration struct {
	Adapter       Adapter
	AllowedAgents map[string]bool // nil/empty means every agent is allowed
}

func (r Registration) allows(agentID string) bool {
	if len(r.AllowedAgents) == 0 {
		return true
	}
	return r.AllowedAgents[agentID]
}

// Subscriber receives every inbound message accepted by the bus.
type Subscriber func(msg InboundMessage)

// Bus is the pub/sub hub between channel adapters and the rest of the
// system. Inbound delivery to subscribers is buffered per-subscriber via a
// TunableChannel so one slow subscriber cannot stall an adapter's goroutine;
// outbound delivery goes through the durable queue.
type Bus struct {
	mu            sync.RWMutex
	registrations map[string]Registration
	subscribers   []*subscriberChannel

	logger *zap.Logger
}

type subscriberChannel struct {
	fn  Subscriber
	buf *channel.TunableChannel[InboundMessage]
}

// New creates an empty Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		registrations: make(map[string]Registration),
		logger:        logger.With(zap.String("component", "channelbus")),
	}
}

// Register adds a channel adapter with its per-channel agent allow-list.
func (b *Bus) Register(channelName string, reg Registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registrations[channelName] = reg
}

// Subscribe registers fn to receive every accepted inbound message. Delivery
// runs on a background goroutine reading from a bounded buffer so Publish
// never blocks on a slow subscriber.
func (b *Bus) Subscribe(ctx context.Context, fn Subscriber) {
	tuneCfg := channel.DefaultTunableConfig()
	sc := &subscriberChannel{
		fn:  fn,
		buf: channel.NewTunableChannel[InboundMessage](tuneCfg),
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sc)
	b.mu.Unlock()

	go func() {
		for {
			msg, err := sc.buf.Receive(ctx)
			if err != nil {
				return
			}
			sc.fn(msg)
		}
	}()

	// Periodically re-tune the subscriber's buffer size against its own
	// send/block/utilization history, on the same cadence its config samples
	// over, so a subscriber that starts fast and later lags (or vice versa)
	// gets a buffer sized for its current behavior, not just its first
	// SampleWindow.
	go func() {
		ticker := time.NewTicker(tuneCfg.SampleWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sc.buf.Tune()
			}
		}
	}()
}

// Publish delivers an inbound message to every subscriber, dropping it for a
// subscriber whose buffer is momentarily full rather than blocking the
// calling adapter goroutine.
func (b *Bus) Publish(msg InboundMessage) {
	b.mu.RLock()
	subs := make([]*subscriberChannel, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sc := range subs {
		if !sc.buf.TrySend(msg) {
			b.logger.Warn("dropping inbound message: subscriber buffer full", zap.String("channel", msg.Channel))
		}
	}
}

// Deliver implements queue.Deliverer: it looks up the registered adapter for
// d.Channel, enforces the channel's agent allow-list, and sends.
func (b *Bus) Deliver(ctx context.Context, d queue.Delivery) error {
	b.mu.RLock()
	reg, ok := b.registrations[d.Channel]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no adapter registered for channel %q", d.Channel)
	}
	if !reg.allows(d.AgentID) {
		return fmt.Errorf("agent %q is not allowed on channel %q", d.AgentID, d.Channel)
	}
	return reg.Adapter.Send(ctx, OutboundMessage{Channel: d.Channel, To: d.To, Text: d.Text, AgentID: d.AgentID})
}
