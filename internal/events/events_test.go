package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusPublishesToMatchingSubscribers(t *testing.T) {
	bus := NewBus()

	var forced, ended []Event
	bus.Subscribe(SessionForcedLogout, func(e Event) { forced = append(forced, e) })
	bus.Subscribe(SessionEnded, func(e Event) { ended = append(ended, e) })

	bus.Publish(Event{Type: SessionForcedLogout, Owner: "42", Reason: "http 401"})

	assert.Len(t, forced, 1)
	assert.Empty(t, ended)
	assert.Equal(t, "42", forced[0].Owner)
	assert.False(t, forced[0].CreatedAt.IsZero())
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsubscribe := bus.Subscribe(SessionEnded, func(Event) { calls++ })
	keep := 0
	bus.Subscribe(SessionEnded, func(Event) { keep++ })

	bus.Publish(Event{Type: SessionEnded})
	unsubscribe()
	bus.Publish(Event{Type: SessionEnded})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, keep)
}
