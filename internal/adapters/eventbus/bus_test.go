package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

func TestBus_PublishDelivers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Publish(ports.Event{Type: ports.EventPluginRegistered, PluginID: "p1"})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, ports.EventPluginRegistered, ev.Type)
		assert.Equal(t, "p1", ev.PluginID)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_PreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(WithBufferSize(8))
	defer bus.Close()

	sub := bus.Subscribe()
	for _, id := range []string{"a", "b", "c"} {
		bus.Publish(ports.Event{Type: ports.EventStatusUpdated, PluginID: id})
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.Events():
			got = append(got, ev.PluginID)
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestBus_FullSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	defer bus.Close()

	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(ports.Event{Type: ports.EventMonitorTick})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
	assert.Equal(t, uint64(9), sub.Dropped())
}

func TestBus_Cancel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	sub.Cancel()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-sub.Events()
	assert.False(t, open)

	// Cancel is idempotent.
	sub.Cancel()
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	bus.Close()
	_, open := <-sub.Events()
	assert.False(t, open)

	// Publish and Subscribe after close do not panic.
	bus.Publish(ports.Event{Type: ports.EventMonitorTick})
	late := bus.Subscribe()
	_, open = <-late.Events()
	assert.False(t, open)
}
