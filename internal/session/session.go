package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrQueueFull     = errors.New("session send queue full")
)

// State 연결 상태
type State int32

const (
	StateConnecting State = iota // 핸드셰이크 완료, 아직 보드 미입장
	StateJoined                  // 스냅샷 전달 완료, 팬아웃 대상
	StateClosing                 // 정리 중 (presence 제거)
	StateClosed                  // 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Identity 연결한 사용자 신원 (핸드셰이크에서 검증됨)
type Identity struct {
	UserID string
	Name   string
	Color  string
}

// Conn WebSocket 연결 추상화 (*websocket.Conn 이 만족)
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session 보드 하나에 묶인 클라이언트 연결 (Thread-Safe)
type Session struct {
	ID          string
	BoardID     string
	Identity    Identity
	ConnectedAt time.Time

	conn  Conn
	state atomic.Int32
	alive atomic.Bool

	// 송신 큐: 닫지 않는다. 종료는 done 으로만 알린다.
	send chan []byte
	done chan struct{}

	closeOnce     sync.Once
	terminateOnce sync.Once

	mu     sync.RWMutex
	cursor [2]float64
}

// New 새 세션 생성
func New(conn Conn, boardID string, identity Identity, queueLimit int) *Session {
	if queueLimit < 1 {
		queueLimit = 1
	}
	s := &Session{
		ID:          uuid.New().String(),
		BoardID:     boardID,
		Identity:    identity,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, queueLimit),
		done:        make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	s.alive.Store(true)

	// pong 수신 시 생존 표시 (읽기 루프에서 호출됨)
	conn.SetPongHandler(func(string) error {
		s.alive.Store(true)
		return nil
	})
	return s
}

// State 현재 상태 조회
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// MarkJoined Connecting -> Joined
func (s *Session) MarkJoined() bool {
	return s.transition(StateConnecting, StateJoined)
}

// BeginClose Connecting/Joined -> Closing. 이번 호출이 전환시켰으면 true.
func (s *Session) BeginClose() bool {
	return s.transition(StateJoined, StateClosing) || s.transition(StateConnecting, StateClosing)
}

// Done 세션이 Closed 가 되면 닫히는 채널
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Enqueue 송신 큐에 추가 (블로킹 없음)
//
// Closing 이후에는 ErrSessionClosed, 큐가 가득 차면 ErrQueueFull 을 반환한다.
// Close 와 동시에 호출해도 안전하다.
func (s *Session) Enqueue(msg []byte) error {
	if s.State() >= StateClosing {
		return ErrSessionClosed
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrQueueFull
	}
}

// Terminate 소켓을 끊어 읽기 루프를 깨운다. 정리는 읽기 루프를 소유한 쪽이 한다.
func (s *Session) Terminate() {
	s.terminateOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// Close Closing -> Closed. 여러 번 호출해도 안전하다.
func (s *Session) Close() {
	s.BeginClose()
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.Terminate()
	})
}

// SetCursor 마지막 커서 위치 저장
func (s *Session) SetCursor(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = [2]float64{x, y}
}

// Cursor 마지막 커서 위치 조회
func (s *Session) Cursor() (x, y float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cursor[0], s.cursor[1]
}
