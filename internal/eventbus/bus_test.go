package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise/internal/clock"
)

func TestPublishStampsWithClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	b := NewWithClock(clock.NewManual(now))
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeBuildStarted, Data: ProjectEvent{Project: "api"}})
	e := <-ch
	assert.Equal(t, now, e.Time)
	pe, ok := e.Project()
	require.True(t, ok)
	assert.Equal(t, "api", pe.Project)
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	assert.EqualValues(t, 1, b.Dropped())
	require.Len(t, ch, 1)
	assert.Equal(t, "a", (<-ch).Type)
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	assert.NotPanics(t, func() { b.Publish(Event{Type: "x"}) })
	_, open := <-ch
	assert.False(t, open)
}

func TestFanoutToEverySubscriber(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(0)
	defer unsubC()

	b.Publish(Event{Type: TypeQueueEntered})
	unsubA()
	b.Publish(Event{Type: TypeQueueExited})

	got := []string{}
	for e := range a {
		got = append(got, e.Type)
	}
	assert.Equal(t, []string{TypeQueueEntered}, got)
	assert.Equal(t, TypeQueueEntered, (<-c).Type)
	assert.Equal(t, TypeQueueExited, (<-c).Type)
	assert.Zero(t, b.Dropped())

	_, ok := Event{Data: "other"}.Project()
	assert.False(t, ok)
}
