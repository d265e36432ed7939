package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

const publishTimeout = 5 * time.Second

// publisher is the subset of *redis.Client used to forward events.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

var (
	_ Bus              = &RedisPublisher{}
	_ services.Service = &RedisPublisher{}
)

// RedisPublisher forwards events to a Redis pub/sub channel so that processes other than
// this one can follow transaction updates. Events are queued and sent from a single worker;
// when the queue is full the event is dropped.
type RedisPublisher struct {
	services.StateMachine
	lggr    logger.Logger
	client  publisher
	closer  func() error
	channel string

	queue  chan Event
	chStop services.StopChan
	done   sync.WaitGroup
}

// DialRedis connects to the server at redisURL and verifies it with a PING.
func DialRedis(ctx context.Context, lggr logger.Logger, redisURL, channel string, bufferSize int) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	p := newRedisPublisher(lggr, client, channel, bufferSize)
	p.closer = client.Close
	return p, nil
}

func newRedisPublisher(lggr logger.Logger, client publisher, channel string, bufferSize int) *RedisPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &RedisPublisher{
		lggr:    logger.Named(lggr, "RedisPublisher"),
		client:  client,
		channel: channel,
		queue:   make(chan Event, bufferSize),
		chStop:  make(chan struct{}),
	}
}

func (p *RedisPublisher) Name() string {
	return p.lggr.Name()
}

func (p *RedisPublisher) Start(context.Context) error {
	return p.StartOnce("RedisPublisher", func() error {
		p.done.Add(1)
		go p.run()
		return nil
	})
}

func (p *RedisPublisher) Close() error {
	return p.StopOnce("RedisPublisher", func() error {
		close(p.chStop)
		p.done.Wait()
		if p.closer != nil {
			return p.closer()
		}
		return nil
	})
}

func (p *RedisPublisher) HealthReport() map[string]error {
	return map[string]error{p.Name(): p.Healthy()}
}

func (p *RedisPublisher) Publish(_ context.Context, ev Event) {
	select {
	case p.queue <- ev:
	default:
		p.lggr.Warnw("redis queue full, dropping event", "topic", ev.Topic, "txID", ev.TxID)
	}
}

func (p *RedisPublisher) run() {
	defer p.done.Done()
	ctx, cancel := p.chStop.NewCtx()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.send(ctx, ev)
		}
	}
}

func (p *RedisPublisher) send(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.lggr.Errorw("failed to encode event", "topic", ev.Topic, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.lggr.Warnw("failed to publish event", "channel", p.channel, "topic", ev.Topic, "txID", ev.TxID, "err", err)
		return
	}
	p.lggr.Debugw("published event", "channel", p.channel, "topic", ev.Topic, "txID", ev.TxID)
}
