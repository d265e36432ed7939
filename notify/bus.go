package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type Topic string

const (
	// TopicTxUpdated fires whenever a single transaction record is written.
	TopicTxUpdated Topic = "tx-updated"
	// TopicTxListUpdated fires whenever the set of a wallet's transactions changes.
	TopicTxListUpdated Topic = "tx-list-updated"
)

const DefaultBufferSize = 64

type EventError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Event struct {
	ID     uuid.UUID   `json:"id"`
	Topic  Topic       `json:"topic"`
	Wallet string      `json:"wallet,omitempty"`
	TxID   string      `json:"txId,omitempty"`
	State  string      `json:"state,omitempty"`
	Error  *EventError `json:"error,omitempty"`
	Time   time.Time   `json:"time"`
}

func NewEvent(topic Topic, wallet, txID, state string) Event {
	return Event{
		ID:     uuid.New(),
		Topic:  topic,
		Wallet: wallet,
		TxID:   txID,
		State:  state,
		Time:   time.Now().UTC(),
	}
}

// Bus delivers events to whoever listens. Publish never blocks on a slow listener.
type Bus interface {
	Publish(ctx context.Context, ev Event)
}

type subscription struct {
	ch     chan Event
	topics map[Topic]bool
}

func (s *subscription) wants(t Topic) bool {
	return len(s.topics) == 0 || s.topics[t]
}

var _ Bus = &Broadcaster{}

// Broadcaster fans events out to in-process subscribers over typed channels.
type Broadcaster struct {
	lggr       logger.Logger
	bufferSize int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

func NewBroadcaster(lggr logger.Logger, bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		lggr:       logger.Named(lggr, "Broadcaster"),
		bufferSize: bufferSize,
		subs:       map[uint64]*subscription{},
	}
}

// Subscribe registers a listener for topics, or for every topic when none are given.
// The returned func unsubscribes and closes the channel; it is safe to call twice.
func (b *Broadcaster) Subscribe(topics ...Topic) (<-chan Event, func()) {
	sub := &subscription{
		ch:     make(chan Event, b.bufferSize),
		topics: make(map[Topic]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
}

func (b *Broadcaster) Publish(_ context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(ev.Topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.lggr.Warnw("subscriber buffer full, dropping event", "topic", ev.Topic, "txID", ev.TxID)
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Multi publishes every event to each of its buses in order.
type Multi []Bus

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, bus := range m {
		bus.Publish(ctx, ev)
	}
}
