package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Listener 구독 핸들러. 한 구독의 메시지는 발행 순서대로 하나씩 전달된다.
type Listener func(ctx context.Context, message []byte)

// ListenerWithErr message 와 err 중 하나만 채워서 호출된다.
// err 가 ErrDroppedMessages 면 그 사이 메시지가 유실됐을 수 있다.
type ListenerWithErr func(ctx context.Context, message []byte, err error)

// Pubsub 채널 단위 발행/구독
type Pubsub interface {
	// Subscribe 반환된 cancel 은 리스너가 끝날 때까지 블록하므로 리스너 안에서 부르면 안 된다.
	Subscribe(channel string, listener Listener) (cancel func(), err error)
	SubscribeWithErr(channel string, listener ListenerWithErr) (cancel func(), err error)
	Publish(ctx context.Context, channel string, message []byte) error
	Close() error
}

var (
	ErrClosed = errors.New("pubsub closed")
	// ErrDroppedMessages 수신 연결이 재연결되는 동안 놓친 메시지가 있을 수 있음
	ErrDroppedMessages = errors.New("pubsub dropped messages")
)

// BoardChannel 보드 변경 피드 채널 이름
func BoardChannel(boardID string) string {
	return "board_elements:" + boardID
}

// ignoreErrors 에러 통지를 버리고 메시지만 넘긴다
func ignoreErrors(listener Listener) ListenerWithErr {
	return func(ctx context.Context, message []byte, err error) {
		if err == nil {
			listener(ctx, message)
		}
	}
}

// delivery 메일박스 한 칸
type delivery struct {
	message []byte
	err     error
}

// mailbox 리스너 하나에 전용 고루틴으로 전달. 큐에 상한이 없어 발행자가 막히지 않는다.
type mailbox struct {
	listener ListenerWithErr

	mu    sync.Mutex
	queue []delivery

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newMailbox(listener ListenerWithErr) *mailbox {
	b := &mailbox{
		listener: listener,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *mailbox) push(d delivery) {
	b.mu.Lock()
	b.queue = append(b.queue, d)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *mailbox) next() (delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return delivery{}, false
	}
	d := b.queue[0]
	b.queue[0] = delivery{}
	b.queue = b.queue[1:]
	return d, true
}

func (b *mailbox) run() {
	defer close(b.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-b.stop
		cancel()
	}()

	for {
		select {
		case <-b.stop:
			return
		case <-b.wake:
		}
		for {
			select {
			case <-b.stop:
				return
			default:
			}
			d, ok := b.next()
			if !ok {
				break
			}
			b.listener(ctx, d.message, d.err)
		}
	}
}

func (b *mailbox) close() {
	b.once.Do(func() { close(b.stop) })
	<-b.done
}

// listenerSet 구현체들이 공유하는 채널 -> 구독 id -> 메일박스 레지스트리
type listenerSet struct {
	mu        sync.RWMutex
	listeners map[string]map[uuid.UUID]*mailbox
	closed    bool
}

func newListenerSet() *listenerSet {
	return &listenerSet{listeners: make(map[string]map[uuid.UUID]*mailbox)}
}

// add 구독 id 와 채널의 첫 리스너인지 반환
func (s *listenerSet) add(channel string, listener ListenerWithErr) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return uuid.Nil, false, ErrClosed
	}

	set, ok := s.listeners[channel]
	if !ok {
		set = make(map[uuid.UUID]*mailbox)
		s.listeners[channel] = set
	}
	var id uuid.UUID
	for {
		id = uuid.New()
		if _, ok := set[id]; !ok {
			break
		}
	}
	set[id] = newMailbox(listener)
	return id, len(set) == 1, nil
}

// remove 채널에 리스너가 남지 않았는지 반환
func (s *listenerSet) remove(channel string, id uuid.UUID) bool {
	s.mu.Lock()
	set := s.listeners[channel]
	box, ok := set[id]
	if ok {
		delete(set, id)
	}
	empty := len(set) == 0
	if empty {
		delete(s.listeners, channel)
	}
	s.mu.Unlock()

	if ok {
		box.close()
	}
	return ok && empty
}

func (s *listenerSet) dispatch(channel string, message []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, box := range s.listeners[channel] {
		box.push(delivery{message: message})
	}
}

// dispatchErr channel 의 리스너에게 err 통지. channel 이 비면 모든 채널.
func (s *listenerSet) dispatchErr(channel string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch, set := range s.listeners {
		if channel != "" && ch != channel {
			continue
		}
		for _, box := range set {
			box.push(delivery{err: err})
		}
	}
}

func (s *listenerSet) closeAll() {
	s.mu.Lock()
	boxes := make([]*mailbox, 0)
	for _, set := range s.listeners {
		for _, box := range set {
			boxes = append(boxes, box)
		}
	}
	s.listeners = make(map[string]map[uuid.UUID]*mailbox)
	s.closed = true
	s.mu.Unlock()

	for _, box := range boxes {
		box.close()
	}
}
