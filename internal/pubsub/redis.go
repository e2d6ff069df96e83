package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPubsub Redis PUBLISH/SUBSCRIBE 로 인스턴스 간 전달. 연결 하나가 모든 채널을 나른다.
type RedisPubsub struct {
	client *redis.Client
	ps     *redis.PubSub
	set    *listenerSet
	log    *zap.Logger

	mu   sync.Mutex // serializes SUBSCRIBE/UNSUBSCRIBE
	done chan struct{}
	once sync.Once
}

func NewRedis(ctx context.Context, client *redis.Client, log *zap.Logger) (*RedisPubsub, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	p := &RedisPubsub{
		client: client,
		ps:     client.Subscribe(ctx),
		set:    newListenerSet(),
		log:    log,
		done:   make(chan struct{}),
	}
	go p.receive()
	return p, nil
}

// receive 같은 채널의 subscribe 확인이 두 번 오면 재연결 후 재구독된 것이다.
func (p *RedisPubsub) receive() {
	defer close(p.done)
	confirmed := make(map[string]bool)
	for msg := range p.ps.ChannelWithSubscriptions() {
		switch m := msg.(type) {
		case *redis.Message:
			p.set.dispatch(m.Channel, []byte(m.Payload))
		case *redis.Subscription:
			switch m.Kind {
			case "subscribe":
				if confirmed[m.Channel] {
					p.log.Warn("redis pubsub resubscribed", zap.String("channel", m.Channel))
					p.set.dispatchErr(m.Channel, ErrDroppedMessages)
				}
				confirmed[m.Channel] = true
			case "unsubscribe":
				delete(confirmed, m.Channel)
			}
		}
	}
}

func (p *RedisPubsub) Subscribe(channel string, listener Listener) (cancel func(), err error) {
	return p.SubscribeWithErr(channel, ignoreErrors(listener))
}

func (p *RedisPubsub) SubscribeWithErr(channel string, listener ListenerWithErr) (cancel func(), err error) {
	id, first, err := p.set.add(channel, listener)
	if err != nil {
		return nil, err
	}
	if first {
		if err := p.subscribe(channel); err != nil {
			p.set.remove(channel, id)
			return nil, err
		}
	}
	return func() {
		if p.set.remove(channel, id) {
			p.mu.Lock()
			defer p.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.ps.Unsubscribe(ctx, channel); err != nil {
				p.log.Warn("redis unsubscribe failed", zap.String("channel", channel), zap.Error(err))
			}
		}
	}, nil
}

// subscribe SUBSCRIBE 후 Redis 가 구독을 보고할 때까지 기다린다 (직후 발행 유실 방지)
func (p *RedisPubsub) subscribe(channel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.ps.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	for {
		counts, err := p.client.PubSubNumSub(ctx, channel).Result()
		if err != nil {
			return fmt.Errorf("redis numsub %s: %w", channel, err)
		}
		if counts[channel] > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis subscribe %s: %w", channel, ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (p *RedisPubsub) Publish(ctx context.Context, channel string, message []byte) error {
	return p.client.Publish(ctx, channel, message).Err()
}

func (p *RedisPubsub) Close() error {
	var err error
	p.once.Do(func() {
		err = p.ps.Close()
		<-p.done
		p.set.closeAll()
	})
	return err
}
