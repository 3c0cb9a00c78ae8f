package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "first:"+string(e.Type)) })
	bus.Subscribe(func(e Event) { got = append(got, "second:"+string(e.Type)) })

	bus.Publish(New(ActivationSucceeded))

	assert.Equal(t, []string{"first:activation_succeeded", "second:activation_succeeded"}, got)
}

func TestPublishFillsIDAndTime(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(func(e Event) { received = e })
	bus.Publish(Event{Type: NeedsAttention, Reason: ReasonExpired})

	assert.NotEmpty(t, received.ID)
	assert.False(t, received.Time.IsZero())
	assert.Equal(t, ReasonExpired, received.Reason)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	unsubscribe := bus.Subscribe(func(Event) { calls++ })
	bus.Publish(New(LicenseChanged))
	unsubscribe()
	unsubscribe()
	bus.Publish(New(LicenseChanged))

	assert.Equal(t, 1, calls)
}

func TestChannelSubscription(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Channel(1)

	bus.Publish(Event{Type: ActivationFailed, Message: "seat limit reached"})
	// dropped, buffer full
	bus.Publish(New(ActivationFailed))

	e := <-ch
	assert.Equal(t, "seat limit reached", e.Message)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	require.NotPanics(t, func() { bus.Publish(New(ActivationFailed)) })
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(New(NeedsAttention)) })
}

func TestSubscribeNilListenerPanics(t *testing.T) {
	assert.Panics(t, func() { NewBus(nil).Subscribe(nil) })
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(New(FeatureDowngraded))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}
