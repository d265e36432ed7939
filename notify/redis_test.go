package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestRedisPublisher_ForwardsEvents(t *testing.T) {
	fake := &fakePublisher{}
	p := newRedisPublisher(logger.Test(t), fake, "txsync", 4)
	require.NoError(t, p.Start(tests.Context(t)))

	ev := NewEvent(TopicTxUpdated, "0xw", "0xccc", "Error")
	ev.Error = &EventError{Code: -32602, Message: "invalid argument"}
	p.Publish(tests.Context(t), ev)

	require.Eventually(t, func() bool { return fake.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close())

	assert.Equal(t, []string{"txsync"}, fake.channels)
	var got Event
	require.NoError(t, json.Unmarshal(fake.messages[0], &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, TopicTxUpdated, got.Topic)
	assert.Equal(t, "0xccc", got.TxID)
	require.NotNil(t, got.Error)
	assert.Equal(t, -32602, got.Error.Code)
}

func TestRedisPublisher_PublishErrorIsLogged(t *testing.T) {
	lggr, observed := logger.TestObserved(t, zapcore.WarnLevel)
	fake := &fakePublisher{err: errors.New("connection refused")}
	p := newRedisPublisher(lggr, fake, "txsync", 4)
	require.NoError(t, p.Start(tests.Context(t)))
	defer p.Close()

	p.Publish(tests.Context(t), NewEvent(TopicTxListUpdated, "0xw", "", ""))
	require.Eventually(t, func() bool {
		return observed.FilterMessageSnippet("failed to publish event").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRedisPublisher_FullQueueDrops(t *testing.T) {
	lggr, observed := logger.TestObserved(t, zapcore.WarnLevel)
	// not started, so nothing drains the queue
	p := newRedisPublisher(lggr, &fakePublisher{}, "txsync", 1)

	p.Publish(tests.Context(t), NewEvent(TopicTxUpdated, "0xw", "0x1", "Pending"))
	p.Publish(tests.Context(t), NewEvent(TopicTxUpdated, "0xw", "0x2", "Pending"))
	assert.Equal(t, 1, observed.FilterMessageSnippet("redis queue full").Len())
}

func TestDialRedis_InvalidURL(t *testing.T) {
	_, err := DialRedis(tests.Context(t), logger.Test(t), "not-a-url", "txsync", 1)
	require.ErrorContains(t, err, "parse redis url")
}
