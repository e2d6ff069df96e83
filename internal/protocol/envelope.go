package protocol

import (
	"encoding/json"

	"realtime-whiteboard/internal/model"
)

// Kind 봉투 종류 (kind 판별자)
type Kind string

const (
	KindCursor        Kind = "cursor"
	KindElementUpsert Kind = "element.upsert"
	KindElementDelete Kind = "element.delete"
	KindElementAck    Kind = "element.ack"
	KindSnapshot      Kind = "snapshot"
	KindPresenceJoin  Kind = "presence.join"
	KindPresenceLeave Kind = "presence.leave"
	KindError         Kind = "error"
)

// ClientKind 클라이언트가 보낼 수 있는 종류인지
func (k Kind) ClientKind() bool {
	switch k {
	case KindCursor, KindElementUpsert, KindElementDelete:
		return true
	}
	return false
}

// Known 서버가 아는 종류인지
func (k Kind) Known() bool {
	switch k {
	case KindCursor, KindElementUpsert, KindElementDelete, KindElementAck,
		KindSnapshot, KindPresenceJoin, KindPresenceLeave, KindError:
		return true
	}
	return false
}

// error 봉투의 code 값
const (
	CodeProtocol = "protocol"
	CodeStore    = "store"
	CodeInternal = "internal"
)

// Cursor 커서 이동 (서버가 보낸 쪽 신원을 찍어서 전달)
type Cursor struct {
	Kind         Kind    `json:"kind"`
	ConnectionID string  `json:"connectionId,omitempty"`
	UserID       string  `json:"userId"`
	Name         string  `json:"name"`
	Color        string  `json:"color"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}

// ElementUpsert 요소 생성/수정 (요소 필드가 kind 옆에 평평하게 직렬화됨)
type ElementUpsert struct {
	Kind Kind `json:"kind"`
	*model.Element
}

// ElementDelete 요소 삭제
type ElementDelete struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// ElementAck 보낸 쪽에게 커밋된 버전 통지
type ElementAck struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Snapshot 입장 시 전체 상태
type Snapshot struct {
	Kind         Kind             `json:"kind"`
	ConnectionID string           `json:"connectionId"`
	Elements     []*model.Element `json:"elements"`
	Presence     []model.Presence `json:"presence"`
}

// PresenceJoin 새 연결 입장
type PresenceJoin struct {
	Kind     Kind           `json:"kind"`
	Presence model.Presence `json:"presence"`
}

// PresenceLeave 연결 퇴장
type PresenceLeave struct {
	Kind         Kind   `json:"kind"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// ErrorMessage 보낸 쪽에게만 전달되는 오류
type ErrorMessage struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewCursor(p model.Presence) Cursor {
	return Cursor{
		Kind:         KindCursor,
		ConnectionID: p.ConnectionID,
		UserID:       p.UserID,
		Name:         p.DisplayName,
		Color:        p.Color,
		X:            p.X,
		Y:            p.Y,
	}
}

func NewElementUpsert(e *model.Element) ElementUpsert {
	return ElementUpsert{Kind: KindElementUpsert, Element: e}
}

func NewElementDelete(id string) ElementDelete {
	return ElementDelete{Kind: KindElementDelete, ID: id}
}

func NewElementAck(id string, version int64, deleted bool) ElementAck {
	return ElementAck{Kind: KindElementAck, ID: id, Version: version, Deleted: deleted}
}

// NewSnapshot nil 슬라이스는 빈 배열로 직렬화되도록 보정
func NewSnapshot(connID string, elements []*model.Element, presence []model.Presence) Snapshot {
	if elements == nil {
		elements = []*model.Element{}
	}
	if presence == nil {
		presence = []model.Presence{}
	}
	return Snapshot{Kind: KindSnapshot, ConnectionID: connID, Elements: elements, Presence: presence}
}

func NewPresenceJoin(p model.Presence) PresenceJoin {
	return PresenceJoin{Kind: KindPresenceJoin, Presence: p}
}

func NewPresenceLeave(connID, userID string) PresenceLeave {
	return PresenceLeave{Kind: KindPresenceLeave, ConnectionID: connID, UserID: userID}
}

func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Kind: KindError, Code: code, Message: message}
}

// Encode 봉투를 JSON으로 직렬화
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Inbound 클라이언트가 보낸 봉투 (Decode 결과)
type Inbound struct {
	Kind     Kind
	X, Y     float64
	Element  *model.Element
	DeleteID string
}
