package session

import (
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
)

var ErrHeartbeatTimeout = errors.New("heartbeat timeout: no pong since last ping")

// PumpConfig 송신 루프 설정
type PumpConfig struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

func (c PumpConfig) withDefaults() PumpConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// WritePump 송신 큐를 소켓으로 흘려보내고 주기적으로 ping 을 보낸다.
//
// 이전 ping 에 pong 이 오지 않은 채 다음 tick 이 오면 연결을 끊는다. onTick 은 ping 을
// 보낸 직후 호출된다. 세션이 닫히거나 쓰기에 실패하면 반환한다.
func (s *Session) WritePump(cfg PumpConfig, onTick func()) error {
	cfg = cfg.withDefaults()

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return nil

		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Terminate()
				return err
			}

		case <-ticker.C:
			if !s.alive.Swap(false) {
				s.Terminate()
				return ErrHeartbeatTimeout
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				s.Terminate()
				return err
			}
			if onTick != nil {
				onTick()
			}
		}
	}
}

// ReadPump 수신 메시지를 순서대로 handle 에 넘긴다. 소켓 오류 시 반환.
func (s *Session) ReadPump(handle func(data []byte)) error {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		handle(data)
	}
}
