package observe_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/hook-engine/internal/event"
	"github.com/compresr/hook-engine/internal/observe"
)

func obs(seq uint64) *observe.Observation {
	return &observe.Observation{
		Seq:       seq,
		ID:        fmt.Sprintf("obs-%d", seq),
		Timestamp: time.Now().UTC(),
		Event:     event.PostToolUse,
	}
}

func drain(sub *observe.Subscription) []uint64 {
	var seqs []uint64
	for {
		select {
		case o, ok := <-sub.C():
			if !ok {
				return seqs
			}
			seqs = append(seqs, o.Seq)
		default:
			return seqs
		}
	}
}

func TestBus_FanOutInPublishOrder(t *testing.T) {
	b := observe.NewBus(16)
	a := b.Subscribe("a")
	c := b.Subscribe("c")

	for i := uint64(1); i <= 5; i++ {
		b.Publish(obs(i))
	}

	want := []uint64{1, 2, 3, 4, 5}
	assert.Equal(t, want, drain(a))
	assert.Equal(t, want, drain(c))
	assert.Zero(t, a.Dropped())
}

func TestBus_SlowSubscriberDropsOldestOnly(t *testing.T) {
	b := observe.NewBus(3)
	slow := b.Subscribe("slow")
	fast := b.Subscribe("fast")

	// Keep the fast subscriber drained while the slow one never reads.
	for i := uint64(1); i <= 10; i++ {
		b.Publish(obs(i))
		select {
		case <-fast.C():
		default:
			t.Fatal("fast subscriber fell behind a drained buffer")
		}
	}

	// The slow subscriber keeps the newest suffix, still ordered.
	assert.Equal(t, []uint64{8, 9, 10}, drain(slow))
	assert.Equal(t, uint64(7), slow.Dropped())
	assert.Zero(t, fast.Dropped())
}

func TestBus_UnsubscribeStopsDeliveryButKeepsBuffer(t *testing.T) {
	b := observe.NewBus(8)
	sub := b.Subscribe("x")

	b.Publish(obs(1))
	b.Publish(obs(2))
	b.Unsubscribe(sub)
	b.Publish(obs(3))

	var got []uint64
	for o := range sub.C() {
		got = append(got, o.Seq)
	}
	assert.Equal(t, []uint64{1, 2}, got)

	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestBus_CloseDrainsThenCloses(t *testing.T) {
	b := observe.NewBus(8)
	sub := b.Subscribe("x")

	b.Publish(obs(1))
	b.Close()
	b.Publish(obs(2)) // no-op after close
	b.Close()         // idempotent

	var got []uint64
	for o := range sub.C() {
		got = append(got, o.Seq)
	}
	assert.Equal(t, []uint64{1}, got)
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	b := observe.NewBus(8)
	b.Close()

	sub := b.Subscribe("late")
	_, ok := <-sub.C()
	require.False(t, ok, "late subscription delivers nothing and is already closed")
}
