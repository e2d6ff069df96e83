package hub

import (
	"context"
	"errors"
	"fmt"
)

var ErrHubClosed = errors.New("hub closed")

// StoreError 저장소 호출 실패 (보낸 쪽에게만 보고, 다른 클라이언트에는 변화 없음)
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ClientMessage error 봉투에 담기는 문구 (내부 에러는 노출하지 않음)
func (e *StoreError) ClientMessage() string {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out", e.Op)
	}
	if e.ID == "" {
		return fmt.Sprintf("%s failed", e.Op)
	}
	return fmt.Sprintf("%s %s failed", e.Op, e.ID)
}

// TransportError 팬아웃 중 닿지 않은 연결 (그 연결만 빠지고 방송은 계속)
type TransportError struct {
	ConnectionID string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.ConnectionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthorizationError 보드 멤버가 아님 (업그레이드 전에 거부)
type AuthorizationError struct {
	UserID  string
	BoardID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not a member of board %s", e.UserID, e.BoardID)
}
