package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"realtime-whiteboard/internal/model"
)

// ProtocolError 잘못된 봉투 (보낸 쪽에게만 보고, 연결은 유지)
type ProtocolError struct {
	Kind   Kind
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Kind == "" {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %s", e.Kind, e.Reason)
}

func newProtocolError(kind Kind, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// rawInbound 종류 판별과 cursor/delete 에 필요한 최상위 필드
type rawInbound struct {
	Kind Kind     `json:"kind"`
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
	ID   string   `json:"id"`
}

// Decode 클라이언트 봉투 파싱
//
// 반환되는 에러는 항상 *ProtocolError 이다. 클라이언트가 보낸 userId/name/color 는
// 무시되며, 서버가 연결의 신원으로 채운다.
func Decode(data []byte) (*Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newProtocolError("", "invalid JSON: %v", err)
	}

	switch {
	case raw.Kind == "":
		return nil, newProtocolError("", "missing kind")
	case !raw.Kind.Known():
		return nil, newProtocolError(raw.Kind, "unknown kind")
	case !raw.Kind.ClientKind():
		return nil, newProtocolError(raw.Kind, "kind is not accepted from clients")
	}

	in := &Inbound{Kind: raw.Kind}
	switch raw.Kind {
	case KindCursor:
		if raw.X == nil || raw.Y == nil {
			return nil, newProtocolError(raw.Kind, "x and y are required")
		}
		if !finite(*raw.X) || !finite(*raw.Y) {
			return nil, newProtocolError(raw.Kind, "x and y must be finite")
		}
		in.X, in.Y = *raw.X, *raw.Y
	case KindElementUpsert:
		// 요소 필드는 kind 와 같은 층에 평평하게 온다
		var el model.Element
		if err := json.Unmarshal(data, &el); err != nil {
			return nil, newProtocolError(raw.Kind, "invalid element: %v", err)
		}
		if el.ID == "" {
			return nil, newProtocolError(raw.Kind, "id is required")
		}
		in.Element = &el
	case KindElementDelete:
		if raw.ID == "" {
			return nil, newProtocolError(raw.Kind, "id is required")
		}
		in.DeleteID = raw.ID
	}
	return in, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
