// Package sessiontest 테스트용 메모리 session.Conn
package sessiontest

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Conn 가짜 WebSocket 연결. Send 로 넣은 프레임은 ReadMessage 가 돌려주고,
// 서버가 쓴 프레임은 Messages 로 확인한다.
type Conn struct {
	in      chan []byte
	closed  chan struct{}
	once    sync.Once
	unblock chan struct{}

	mu       sync.Mutex
	written  [][]byte
	pings    int
	pong     func(string) error
	autoPong bool
	blocked  bool
}

func NewConn() *Conn {
	return &Conn{
		in:       make(chan []byte, 64),
		closed:   make(chan struct{}),
		unblock:  make(chan struct{}),
		autoPong: true,
	}
}

// Send 서버가 읽을 클라이언트 프레임 적재
func (c *Conn) Send(data []byte) {
	select {
	case c.in <- data:
	case <-c.closed:
	}
}

// SendJSON v 를 JSON 으로 보내기
func (c *Conn) SendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.Send(data)
}

// SetAutoPong ping 자동 응답 여부
func (c *Conn) SetAutoPong(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoPong = on
}

// Block Unblock 이나 Close 전까지 WriteMessage 를 멈춘다
func (c *Conn) Block() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.blocked {
		c.blocked = true
		c.unblock = make(chan struct{})
	}
}

func (c *Conn) Unblock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocked {
		c.blocked = false
		close(c.unblock)
	}
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *Conn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	wait := c.unblock
	blocked := c.blocked
	c.mu.Unlock()

	if blocked {
		select {
		case <-wait:
		case <-c.closed:
			return net.ErrClosed
		}
	}

	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *Conn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	pong := c.pong
	answer := c.autoPong && messageType == websocket.PingMessage
	if messageType == websocket.PingMessage {
		c.pings++
	}
	c.mu.Unlock()

	if answer && pong != nil {
		return pong("")
	}
	return nil
}

func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

func (c *Conn) SetPongHandler(h func(appData string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pong = h
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Closed 서버가 연결을 닫았는지
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Pings 지금까지 보낸 ping 수
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Messages 서버가 쓴 프레임 복사본
func (c *Conn) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// Envelope 느슨하게 디코드한 서버 프레임
type Envelope map[string]any

func (e Envelope) Kind() string {
	k, _ := e["kind"].(string)
	return k
}

// Envelopes 쓴 프레임 전부 디코드
func (c *Conn) Envelopes() []Envelope {
	msgs := c.Messages()
	out := make([]Envelope, 0, len(msgs))
	for _, m := range msgs {
		var e Envelope
		if err := json.Unmarshal(m, &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}

// OfKind kind 가 같은 봉투만
func (c *Conn) OfKind(kind string) []Envelope {
	var out []Envelope
	for _, e := range c.Envelopes() {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}
