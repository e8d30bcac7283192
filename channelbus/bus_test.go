package channelbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/duskvane/aegis/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name string
	mu   sync.Mutex
	sent []OutboundMessage
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Send(_ context.Context, msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func TestBus_PublishReachesSubscriber(t *testing.T) {
	bus := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan InboundMessage, 1)
	bus.Subscribe(ctx, func(msg InboundMessage) { received <- msg })

	bus.Publish(InboundMessage{Channel: "telegram", PeerID: "u1", Text: "hi"})

	select {
	case msg := <-received:
		assert.Equal(t, "hi", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}
}

func TestBus_DeliverRespectsAllowList(t *testing.T) {
	bus := New(nil)
	adapter := &fakeAdapter{name: "telegram"}
	bus.Register("telegram", Registration{Adapter: adapter, AllowedAgents: map[string]bool{"a1": true}})

	err := bus.Deliver(context.Background(), queue.Delivery{Channel: "telegram", To: "u1", Text: "hi", AgentID: "a1"})
	require.NoError(t, err)

	err = bus.Deliver(context.Background(), queue.Delivery{Channel: "telegram", To: "u1", Text: "hi", AgentID: "a2"})
	assert.Error(t, err)
}

func TestBus_DeliverUnknownChannel(t *testing.T) {
	bus := New(nil)
	err := bus.Deliver(context.Background(), queue.Delivery{Channel: "unknown", To: "u1", Text: "hi"})
	assert.Error(t, err)
}
