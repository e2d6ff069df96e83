package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-whiteboard/internal/metrics"
	"realtime-whiteboard/internal/model"
	"realtime-whiteboard/internal/presence"
	"realtime-whiteboard/internal/protocol"
	"realtime-whiteboard/internal/session"
	"realtime-whiteboard/internal/store"
)

// Config 허브 설정
type Config struct {
	InstanceID        string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendQueueLimit    int
	StoreTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendQueueLimit <= 0 {
		c.SendQueueLimit = 256
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	return c
}

// Stats 허브 현황
type Stats struct {
	Boards      int `json:"boards"`
	Connections int `json:"connections"`
}

// Hub 보드별 연결을 관리하고 봉투를 라우팅한다.
//
// 요소 변경은 보드 단위 mutation 잠금 아래에서 저장소에 먼저 쓰고, 성공한 경우에만
// 같은 잠금 안에서 팬아웃한다. 그래서 모든 클라이언트가 같은 순서로 변경을 본다.
type Hub struct {
	cfg      Config
	store    store.ElementStore
	presence presence.Registry
	metrics  *metrics.Metrics
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	boards   map[string]*board
	sessions map[string]*session.Session
	closed   bool
	wg       sync.WaitGroup
}

// New 허브 생성
func New(cfg Config, st store.ElementStore, reg presence.Registry, m *metrics.Metrics, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg.withDefaults(),
		store:    st,
		presence: reg,
		metrics:  m,
		log:      log.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		boards:   make(map[string]*board),
		sessions: make(map[string]*session.Session),
	}
}

// NewSession 허브 설정의 큐 크기로 세션 생성
func (h *Hub) NewSession(conn session.Conn, boardID string, identity session.Identity) *session.Session {
	if identity.Color == "" {
		identity.Color = model.ColorForUser(identity.UserID)
	}
	return session.New(conn, boardID, identity, h.cfg.SendQueueLimit)
}

// Serve 세션을 보드에 입장시키고 연결이 끊길 때까지 블록한다.
//
// 반환 시점에는 presence 가 제거되었고 송신 루프도 끝나 있다.
func (h *Hub) Serve(s *session.Session) error {
	if !h.track(s) {
		s.Close()
		return ErrHubClosed
	}
	defer h.untrack(s)

	log := h.log.With(
		zap.String("board", s.BoardID),
		zap.String("conn", s.ID),
		zap.String("user", s.Identity.UserID),
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		err := s.WritePump(session.PumpConfig{
			HeartbeatInterval: h.cfg.HeartbeatInterval,
			WriteTimeout:      h.cfg.WriteTimeout,
		}, func() { h.refreshPresence(s) })
		switch {
		case errors.Is(err, session.ErrHeartbeatTimeout):
			h.metrics.HeartbeatTimeouts.Inc()
			log.Info("💔 heartbeat timeout")
		case err != nil:
			log.Debug("write failed", zap.Error(&TransportError{ConnectionID: s.ID, Err: err}))
		}
	}()

	b, err := h.join(s)
	if err != nil {
		log.Warn("❌ join failed", zap.Error(err))
		s.Close()
		<-writerDone
		return err
	}
	log.Info("✅ joined", zap.Int("members", b.size()))

	if err := s.ReadPump(func(data []byte) { h.route(b, s, data) }); err != nil {
		log.Debug("read loop ended", zap.Error(err))
	}

	h.leave(b, s)
	<-writerDone
	log.Info("👋 left")
	return nil
}

// Close 모든 연결을 끊고 Serve 가 모두 반환할 때까지 기다린다.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Terminate()
	}
	h.wg.Wait()
	h.cancel()
	h.log.Info("🛑 hub closed", zap.Int("sessions", len(sessions)))
}

// Stats 현재 보드/연결 수
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{Boards: len(h.boards)}
	for _, b := range h.boards {
		st.Connections += b.size()
	}
	return st
}

func (h *Hub) track(s *session.Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.sessions[s.ID] = s
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(s *session.Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()
	h.wg.Done()
}

// acquire 보드 참조 획득. 첫 참조에서 변경 피드를 구독한다.
//
// 구독은 네트워크 호출일 수 있어 hub.mu 밖에서 한다. 같은 보드의 다른 입장은 ready 를 기다린다.
func (h *Hub) acquire(boardID string) (*board, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	b, ok := h.boards[boardID]
	if ok {
		b.refs++
		h.mu.Unlock()

		<-b.ready
		if b.subErr != nil {
			h.release(b)
			return nil, b.subErr
		}
		return b, nil
	}

	b = newBoard(h, boardID)
	b.refs = 1
	h.boards[boardID] = b
	h.metrics.Boards.Inc()
	h.mu.Unlock()

	unsubscribe, err := h.store.SubscribeChanges(h.ctx, boardID, b.relay)
	if err != nil {
		b.subErr = &StoreError{Op: "subscribe", ID: boardID, Err: err}
		close(b.ready)
		h.release(b)
		return nil, b.subErr
	}
	h.mu.Lock()
	b.unsubscribe = unsubscribe
	h.mu.Unlock()
	close(b.ready)
	return b, nil
}

// release 보드 참조 반환. 마지막 참조면 구독을 끊고 보드를 지운다.
func (h *Hub) release(b *board) {
	h.mu.Lock()
	b.refs--
	var unsubscribe func()
	if b.refs == 0 {
		if h.boards[b.id] == b {
			delete(h.boards, b.id)
		}
		unsubscribe = b.unsubscribe
		h.metrics.Boards.Dec()
	}
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (h *Hub) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, h.cfg.StoreTimeout)
}

// cleanupContext 허브 종료 중에도 presence 를 지울 수 있도록 취소를 끊는다.
func (h *Hub) cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(h.ctx), h.cfg.StoreTimeout)
}

func (h *Hub) presenceOf(s *session.Session) model.Presence {
	x, y := s.Cursor()
	return model.Presence{
		ConnectionID: s.ID,
		BoardID:      s.BoardID,
		UserID:       s.Identity.UserID,
		DisplayName:  s.Identity.Name,
		Color:        s.Identity.Color,
		X:            x,
		Y:            y,
		UpdatedAt:    time.Now(),
	}
}

// join 입장 순서: presence 등록 -> (잠금) 스냅샷 전송, 팬아웃 등록 -> presence.join 방송
func (h *Hub) join(s *session.Session) (*board, error) {
	b, err := h.acquire(s.BoardID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := h.storeContext()
	defer cancel()

	p := h.presenceOf(s)
	if err := h.presence.Upsert(ctx, b.id, s.ID, p); err != nil {
		h.release(b)
		return nil, &StoreError{Op: "presence upsert", Err: err}
	}

	if err := h.sendSnapshot(ctx, b, s); err != nil {
		h.abortJoin(b, s)
		return nil, err
	}

	msg, err := protocol.Encode(protocol.NewPresenceJoin(p))
	if err != nil {
		h.log.Error("encode presence.join", zap.Error(err))
	} else {
		b.broadcast(protocol.KindPresenceJoin, msg, s.ID, true)
	}
	h.metrics.Connections.Inc()
	return b, nil
}

// sendSnapshot 스냅샷 적재와 팬아웃 등록을 mutation 잠금 하나로 묶는다.
// 잠금이 풀린 뒤의 모든 변경은 팬아웃으로 받는다.
func (h *Hub) sendSnapshot(ctx context.Context, b *board, s *session.Session) error {
	b.mutation.Lock()
	defer b.mutation.Unlock()

	start := time.Now()
	elements, err := h.store.ListElements(ctx, b.id)
	h.metrics.StoreLatency.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.StoreErrors.WithLabelValues("list").Inc()
		return &StoreError{Op: "list", ID: b.id, Err: err}
	}
	peers, err := h.presence.List(ctx, b.id)
	if err != nil {
		return &StoreError{Op: "presence list", ID: b.id, Err: err}
	}
	for _, e := range elements {
		b.observe(e.ID, e.Version)
	}

	msg, err := protocol.Encode(protocol.NewSnapshot(s.ID, elements, peers))
	if err != nil {
		return err
	}
	if err := s.Enqueue(msg); err != nil {
		return &TransportError{ConnectionID: s.ID, Err: err}
	}
	h.metrics.EnvelopesOut.WithLabelValues(string(protocol.KindSnapshot)).Inc()

	b.add(s)
	s.MarkJoined()
	return nil
}

func (h *Hub) abortJoin(b *board, s *session.Session) {
	h.removePresence(s)
	h.release(b)
}

// removePresence 허브 종료 중에도 presence 를 지운다
func (h *Hub) removePresence(s *session.Session) {
	ctx, cancel := h.cleanupContext()
	defer cancel()

	if err := h.presence.Remove(ctx, s.BoardID, s.ID); err != nil {
		h.log.Warn("presence remove failed", zap.String("conn", s.ID), zap.Error(err))
	}
}

// leave 퇴장 순서: Closing -> presence 제거 -> 팬아웃 제외 -> presence.leave 방송 -> Closed
func (h *Hub) leave(b *board, s *session.Session) {
	s.BeginClose()
	h.removePresence(s)

	b.remove(s.ID)
	if msg, err := protocol.Encode(protocol.NewPresenceLeave(s.ID, s.Identity.UserID)); err == nil {
		b.broadcast(protocol.KindPresenceLeave, msg, s.ID, true)
	}

	s.Close()
	h.release(b)
	h.metrics.Connections.Dec()
}

// refreshPresence heartbeat 마다 presence TTL 갱신
func (h *Hub) refreshPresence(s *session.Session) {
	if s.State() != session.StateJoined {
		return
	}
	ctx, cancel := h.storeContext()
	defer cancel()

	if err := h.presence.Upsert(ctx, s.BoardID, s.ID, h.presenceOf(s)); err != nil {
		h.log.Warn("presence refresh failed", zap.String("conn", s.ID), zap.Error(err))
		return
	}
	// leave 가 그 사이 presence 를 지웠다면 되살리지 않는다
	if s.State() != session.StateJoined {
		_ = h.presence.Remove(ctx, s.BoardID, s.ID)
	}
}
