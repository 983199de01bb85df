package debate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_OrderAndSequence(t *testing.T) {
	t.Parallel()

	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Type: EventTurnStarted, Agent: "devil"})
	b.Publish(Event{Type: EventContentDelta, Agent: "devil", Text: "no"})
	b.Publish(Event{Type: EventTurnCompleted, Agent: "devil", TurnStatus: TurnCompleted})

	first := <-ch
	second := <-ch
	third := <-ch

	assert.Equal(t, EventTurnStarted, first.Type)
	assert.Equal(t, EventContentDelta, second.Type)
	assert.Equal(t, EventTurnCompleted, third.Type)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(3), third.Seq)
}

func TestBus_LateSubscriberGetsReplay(t *testing.T) {
	t.Parallel()

	b := NewBus()
	b.Publish(Event{Type: EventTurnStarted, Agent: "angel"})
	b.Publish(Event{Type: EventContentDelta, Agent: "angel", Text: "yes"})

	ch, cancel := b.Subscribe()
	defer cancel()

	ev := <-ch
	assert.Equal(t, EventTurnStarted, ev.Type)
	ev = <-ch
	assert.Equal(t, "yes", ev.Text)
}

func TestBus_TerminalEventClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Type: EventSessionCompleted, Verdict: &Verdict{Winner: "support"}})

	ev, ok := <-ch
	require.True(t, ok)
	require.NotNil(t, ev.Verdict)
	assert.Equal(t, "support", ev.Verdict.Winner)

	_, ok = <-ch
	assert.False(t, ok, "channel should close after terminal event")
	assert.True(t, b.Done())

	// Publishes after terminal are dropped.
	b.Publish(Event{Type: EventContentDelta, Text: "too late"})
	assert.Len(t, b.History(), 1)
}

func TestBus_SubscribeAfterTerminalReplaysThenCloses(t *testing.T) {
	t.Parallel()

	b := NewBus()
	b.Publish(Event{Type: EventContentDelta, Text: "a"})
	b.Publish(Event{Type: EventSessionFailed, Reason: "backend unreachable"})

	ch, cancel := b.Subscribe()
	defer cancel()

	var got []Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventSessionFailed, got[1].Type)
	assert.Equal(t, "backend unreachable", got[1].Reason)
}

func TestBus_SlowSubscriberEvicted(t *testing.T) {
	t.Parallel()

	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Never read: overflow the buffer until eviction closes the channel.
	for i := 0; i < subscriberBuf+2; i++ {
		b.Publish(Event{Type: EventContentDelta, Text: "x"})
	}

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberBuf, n, "evicted reader keeps only buffered events")

	// The bus itself is unaffected.
	b.Publish(Event{Type: EventContentDelta, Text: "y"})
	assert.Len(t, b.History(), subscriberBuf+3)
}

func TestBus_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBus()
	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic on the removed subscriber.
	b.Publish(Event{Type: EventContentDelta, Text: "z"})
}
