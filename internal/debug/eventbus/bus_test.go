package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(16)

	var (
		mu  sync.Mutex
		got []string
	)
	bus.Subscribe(StageCompleted, HandlerFunc{ID: "rec", Fn: func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Data["stage"].(string))
	}})
	bus.Subscribe(StageCompleted, HandlerFunc{ID: "panics", Fn: func(Event) { panic("boom") }})

	for _, s := range []string{"load", "mask", "analyze"} {
		bus.Publish(Event{Type: StageCompleted, Data: map[string]interface{}{"stage": s}})
	}
	bus.Publish(Event{Type: StageStarted, Data: map[string]interface{}{"stage": "ignored"}})
	bus.Shutdown()

	assert.Equal(t, []string{"load", "mask", "analyze"}, got)
}

func TestBusUnsubscribeAndPublishAfterShutdown(t *testing.T) {
	bus := NewBus(4)

	calls := 0
	h := HandlerFunc{ID: "h", Fn: func(Event) { calls++ }}
	bus.Subscribe(ImageWritten, h)
	bus.Unsubscribe(ImageWritten, h)
	bus.Publish(Event{Type: ImageWritten})
	bus.Shutdown()

	assert.NotPanics(t, func() { bus.Publish(Event{Type: ImageWritten}) })
	assert.NotPanics(t, bus.Shutdown)
	assert.Zero(t, calls)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	block := make(chan struct{})
	bus.Subscribe("slow", HandlerFunc{ID: "slow", Fn: func(Event) { <-block }})

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: "slow"})
	}
	assert.Positive(t, bus.Dropped())

	close(block)
	bus.Shutdown()
}
