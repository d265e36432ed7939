package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"
)

func TestBroadcaster_TopicFiltering(t *testing.T) {
	b := NewBroadcaster(logger.Test(t), 4)
	ctx := tests.Context(t)

	updates, unsubUpdates := b.Subscribe(TopicTxUpdated)
	defer unsubUpdates()
	all, unsubAll := b.Subscribe()
	defer unsubAll()

	b.Publish(ctx, NewEvent(TopicTxUpdated, "0xw", "0x1", "Completed"))
	b.Publish(ctx, NewEvent(TopicTxListUpdated, "0xw", "", ""))

	ev := <-updates
	assert.Equal(t, TopicTxUpdated, ev.Topic)
	assert.Equal(t, "0x1", ev.TxID)
	assert.NotEqual(t, [16]byte{}, [16]byte(ev.ID))
	assert.Empty(t, updates)

	require.Len(t, all, 2)
	assert.Equal(t, TopicTxUpdated, (<-all).Topic)
	assert.Equal(t, TopicTxListUpdated, (<-all).Topic)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	lggr, observed := logger.TestObserved(t, zapcore.WarnLevel)
	b := NewBroadcaster(lggr, 1)
	ctx := tests.Context(t)

	ch, unsub := b.Subscribe(TopicTxUpdated)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			b.Publish(ctx, NewEvent(TopicTxUpdated, "0xw", "0x1", "Pending"))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Len(t, ch, 1)
	assert.Equal(t, 2, observed.FilterMessageSnippet("dropping event").Len())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(logger.Test(t), 0)
	ch, unsub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	unsub()
	unsub()
	require.Equal(t, 0, b.SubscriberCount())

	_, ok := <-ch
	require.False(t, ok)

	// publishing after unsubscribe must not panic on the closed channel
	b.Publish(tests.Context(t), NewEvent(TopicTxUpdated, "0xw", "0x1", "Pending"))
}

func TestMulti(t *testing.T) {
	ctx := tests.Context(t)
	b1 := NewBroadcaster(logger.Test(t), 1)
	b2 := NewBroadcaster(logger.Test(t), 1)
	ch1, unsub1 := b1.Subscribe()
	defer unsub1()
	ch2, unsub2 := b2.Subscribe()
	defer unsub2()

	Multi{b1, b2}.Publish(ctx, NewEvent(TopicTxListUpdated, "0xw", "", ""))
	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 1)
}
