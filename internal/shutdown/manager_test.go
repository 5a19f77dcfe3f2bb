package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownReverseOrderOnce(t *testing.T) {
	m := NewManager(context.Background(), nil)

	var order []string
	m.Register("store", Func(func() { order = append(order, "store") }))
	m.Register("events", Func(func() { order = append(order, "events") }))

	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, []string{"events", "store"}, order)
	assert.ErrorIs(t, m.Context().Err(), context.Canceled)

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestShutdownTimesOutSlowComponent(t *testing.T) {
	m := NewManager(context.Background(), nil)
	m.timeout = 10 * time.Millisecond

	block := make(chan struct{})
	defer close(block)
	m.Register("slow", Func(func() { <-block }))

	start := time.Now()
	m.Shutdown()
	assert.Less(t, time.Since(start), time.Second)
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := NewManager(parent, nil)
	m.Listen()
	defer m.Shutdown()

	cancel()
	assert.ErrorIs(t, m.Context().Err(), context.Canceled)
}
