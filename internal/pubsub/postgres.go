package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NotifyChannel 모든 논리 채널이 실리는 Postgres 채널. 페이로드는 "<channel>\n<message>"
const NotifyChannel = "whiteboard_events"

// maxNotifyPayload NOTIFY 페이로드 한도 8000 바이트에서 여유분을 뺀 값
const maxNotifyPayload = 7900

var ErrPayloadTooLarge = errors.New("notify payload too large")

// PostgresPubsub 풀에서 떼어낸 전용 연결로 LISTEN/NOTIFY
type PostgresPubsub struct {
	pool *pgxpool.Pool
	set  *listenerSet
	log  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewPostgres 수신 연결을 잡고 수신 루프 시작
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) (*PostgresPubsub, error) {
	conn, err := listen(ctx, pool)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p := &PostgresPubsub{
		pool:   pool,
		set:    newListenerSet(),
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(runCtx, conn)
	return p, nil
}

// listen 리스너 수명 동안 풀에서 연결 하나를 떼어낸다
func listen(ctx context.Context, pool *pgxpool.Pool) (*pgx.Conn, error) {
	pooled, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	conn := pooled.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	return conn, nil
}

func (p *PostgresPubsub) run(ctx context.Context, conn *pgx.Conn) {
	defer close(p.done)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		if conn == nil {
			var err error
			conn, err = listen(ctx, p.pool)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Warn("postgres listen reconnect failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			p.log.Info("postgres listen reconnected")
			// 끊겨 있던 동안의 NOTIFY 는 다시 오지 않는다
			p.set.dispatchErr("", ErrDroppedMessages)
		}

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("postgres wait for notification failed", zap.Error(err))
			_ = conn.Close(context.Background())
			conn = nil
			continue
		}

		channel, payload, ok := strings.Cut(n.Payload, "\n")
		if !ok {
			continue
		}
		p.set.dispatch(channel, []byte(payload))
	}
}

func (p *PostgresPubsub) Subscribe(channel string, listener Listener) (cancel func(), err error) {
	return p.SubscribeWithErr(channel, ignoreErrors(listener))
}

func (p *PostgresPubsub) SubscribeWithErr(channel string, listener ListenerWithErr) (cancel func(), err error) {
	id, _, err := p.set.add(channel, listener)
	if err != nil {
		return nil, err
	}
	return func() { p.set.remove(channel, id) }, nil
}

func (p *PostgresPubsub) Publish(ctx context.Context, channel string, message []byte) error {
	payload := channel + "\n" + string(message)
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("%w: %d bytes on %s", ErrPayloadTooLarge, len(payload), channel)
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, payload); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}

func (p *PostgresPubsub) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
		p.set.closeAll()
	})
	return nil
}
