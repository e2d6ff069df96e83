package hub

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-whiteboard/internal/protocol"
	"realtime-whiteboard/internal/session"
	"realtime-whiteboard/internal/store"
)

// board 한 보드의 로컬 연결 집합
type board struct {
	id  string
	hub *Hub

	mu      sync.RWMutex
	members map[string]*session.Session

	// mutation 요소 변경의 저장과 팬아웃을 직렬화한다. versions 도 이 잠금으로 보호.
	mutation sync.Mutex
	versions map[string]int64

	// ready 변경 피드 구독이 끝나면 닫힌다. subErr 는 그 결과.
	ready  chan struct{}
	subErr error

	// hub.mu 로 보호
	refs        int
	unsubscribe func()
}

func newBoard(h *Hub, id string) *board {
	return &board{
		id:       id,
		hub:      h,
		members:  make(map[string]*session.Session),
		versions: make(map[string]int64),
		ready:    make(chan struct{}),
	}
}

func (b *board) add(s *session.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[s.ID] = s
}

func (b *board) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.members, id)
}

func (b *board) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members)
}

func (b *board) peers(except string) []*session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*session.Session, 0, len(b.members))
	for id, s := range b.members {
		if id != except {
			out = append(out, s)
		}
	}
	return out
}

// broadcast except 를 뺀 모든 멤버에게 전송
func (b *board) broadcast(kind protocol.Kind, msg []byte, except string, reliable bool) {
	for _, peer := range b.peers(except) {
		b.hub.deliver(peer, kind, msg, reliable)
	}
}

// observe 스냅샷/로컬 쓰기로 알게 된 버전 기록 (mutation 잠금 안에서 호출)
func (b *board) observe(id string, version int64) {
	if version > b.versions[id] {
		b.versions[id] = version
	}
}

// accept 다른 인스턴스의 변경이 이미 본 것보다 새로운지 판단 (mutation 잠금 안에서 호출)
//
// 삭제된 요소의 버전은 묘비로 남겨 늦게 도착한 수정을 버린다. 같은 id 의 insert 는
// 새 요소이므로 항상 받는다.
func (b *board) accept(c store.Change) bool {
	id, v := c.Element.ID, c.Element.Version
	known, ok := b.versions[id]

	switch c.Op {
	case store.OpInsert:
		b.versions[id] = v
		return true
	case store.OpUpdate:
		if ok && v <= known {
			return false
		}
	case store.OpDelete:
		if ok && v < known {
			return false
		}
	default:
		return false
	}
	b.versions[id] = v
	return true
}

// relay 변경 피드 리스너. 자기 인스턴스가 낸 변경은 이미 팬아웃했으므로 건너뛴다.
func (b *board) relay(c store.Change) {
	h := b.hub
	if c.Op == store.OpResync {
		b.resync()
		return
	}
	if c.Origin == h.cfg.InstanceID || c.Element == nil {
		return
	}

	b.mutation.Lock()
	defer b.mutation.Unlock()

	if !b.accept(c) {
		return
	}

	var (
		kind protocol.Kind
		env  any
	)
	if c.Op == store.OpDelete {
		kind, env = protocol.KindElementDelete, protocol.NewElementDelete(c.Element.ID)
	} else {
		kind, env = protocol.KindElementUpsert, protocol.NewElementUpsert(c.Element)
	}
	msg, err := protocol.Encode(env)
	if err != nil {
		h.log.Error("encode relayed change", zap.Error(err))
		return
	}
	b.broadcast(kind, msg, "", true)
	h.metrics.FeedRelayed.Inc()
}

// resync 피드가 끊겼던 동안의 변경을 놓쳤을 수 있으므로 모든 멤버에게 스냅샷을 다시 보낸다.
//
// 묘비는 지우지 않고 저장소의 버전으로 올리기만 한다.
func (b *board) resync() {
	h := b.hub
	b.mutation.Lock()
	defer b.mutation.Unlock()

	ctx, cancel := h.storeContext()
	defer cancel()

	start := time.Now()
	elements, err := h.store.ListElements(ctx, b.id)
	h.metrics.StoreLatency.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.StoreErrors.WithLabelValues("list").Inc()
		h.log.Warn("resync list failed", zap.String("board", b.id), zap.Error(err))
		return
	}
	peers, err := h.presence.List(ctx, b.id)
	if err != nil {
		h.log.Warn("resync presence list failed", zap.String("board", b.id), zap.Error(err))
		return
	}
	for _, e := range elements {
		b.observe(e.ID, e.Version)
	}

	members := b.peers("")
	for _, s := range members {
		msg, err := protocol.Encode(protocol.NewSnapshot(s.ID, elements, peers))
		if err != nil {
			h.log.Error("encode snapshot", zap.Error(err))
			return
		}
		h.deliver(s, protocol.KindSnapshot, msg, true)
	}
	h.log.Info("🔄 board resynced after feed gap",
		zap.String("board", b.id),
		zap.Int("elements", len(elements)),
		zap.Int("members", len(members)))
}

// deliver 한 연결에 전송. 커서는 큐가 차면 버리고, 나머지는 연결을 끊는다.
func (h *Hub) deliver(peer *session.Session, kind protocol.Kind, msg []byte, reliable bool) {
	err := peer.Enqueue(msg)
	switch {
	case err == nil:
		h.metrics.EnvelopesOut.WithLabelValues(string(kind)).Inc()

	case errors.Is(err, session.ErrQueueFull):
		if !reliable {
			h.metrics.CursorDropped.Inc()
			return
		}
		if peer.BeginClose() {
			h.metrics.SlowDisconnects.Inc()
			h.log.Warn("🐢 slow client disconnected",
				zap.String("board", peer.BoardID),
				zap.String("conn", peer.ID),
				zap.String("kind", string(kind)))
			// Closing 진입과 함께 presence 제거. leave 에서 한 번 더 지워도 무해하다.
			h.removePresence(peer)
		}
		peer.Terminate()

	default:
		h.log.Debug("skip closed peer", zap.Error(&TransportError{ConnectionID: peer.ID, Err: err}))
	}
}
