package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllHandlers(t *testing.T) {
	bus := NewBus(8)

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, ev Event) error {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], ev.ID)
			return nil
		}
	}

	bus.Subscribe("a", record("a"))
	bus.Subscribe("b", record("b"))
	assert.Equal(t, 2, bus.HandlerCount())

	bus.Start()
	require.True(t, bus.Publish(Event{ID: "1"}))
	require.True(t, bus.Publish(Event{ID: "2"}))
	bus.Stop(time.Second)

	assert.ElementsMatch(t, []string{"1", "2"}, got["a"])
	assert.ElementsMatch(t, []string{"1", "2"}, got["b"])
}

func TestBusConcurrentStartStop(t *testing.T) {
	for i := 0; i < 200; i++ {
		bus := NewBus(4)
		var delivered atomic.Int32
		bus.Subscribe("count", func(ctx context.Context, ev Event) error {
			delivered.Add(1)
			return nil
		})
		require.True(t, bus.Publish(Event{ID: "1"}))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Start()
		}()
		go func() {
			defer wg.Done()
			bus.Stop(time.Second)
		}()
		wg.Wait()
		bus.Stop(time.Second)

		require.Eventually(t, func() bool { return delivered.Load() == 1 }, time.Second, time.Millisecond)
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(1)

	// Not started: the first event fills the queue, the second is dropped.
	assert.True(t, bus.Publish(Event{ID: "1"}))
	assert.False(t, bus.Publish(Event{ID: "2"}))
	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Equal(t, 1, bus.Pending())

	var delivered atomic.Int32
	bus.Subscribe("count", func(ctx context.Context, ev Event) error {
		delivered.Add(1)
		return nil
	})

	// Stop drains whatever was queued even if Start was never called.
	bus.Stop(time.Second)
	assert.Equal(t, int32(1), delivered.Load())

	assert.False(t, bus.Publish(Event{ID: "3"}))
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestBusReportsHandlerErrorsAndPanics(t *testing.T) {
	bus := NewBus(4)

	var mu sync.Mutex
	failures := map[string]int{}
	bus.OnError(func(name string, err error) {
		mu.Lock()
		failures[name]++
		mu.Unlock()
	})

	bus.Subscribe("failing", func(ctx context.Context, ev Event) error {
		return errors.New("export failed")
	})
	bus.Subscribe("panicking", func(ctx context.Context, ev Event) error {
		panic("boom")
	})

	var ok atomic.Int32
	bus.Subscribe("ok", func(ctx context.Context, ev Event) error {
		ok.Add(1)
		return nil
	})

	bus.Start()
	bus.Publish(Event{ID: "1"})
	bus.Stop(time.Second)

	assert.Equal(t, 1, failures["failing"])
	assert.Equal(t, 1, failures["panicking"])
	assert.Equal(t, int32(1), ok.Load())
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(4)
	bus.Subscribe("a", func(ctx context.Context, ev Event) error { return nil })
	bus.Subscribe("b", func(ctx context.Context, ev Event) error { return nil })
	bus.Unsubscribe("a")
	assert.Equal(t, 1, bus.HandlerCount())
}

func TestBusStopTimeoutCancelsHandlers(t *testing.T) {
	bus := NewBus(1)

	cancelled := make(chan struct{})
	bus.Subscribe("slow", func(ctx context.Context, ev Event) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	bus.Start()
	bus.Publish(Event{ID: "1"})
	bus.Stop(20 * time.Millisecond)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}
}
