package hub

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"realtime-whiteboard/internal/protocol"
	"realtime-whiteboard/internal/session"
	"realtime-whiteboard/internal/store"
)

// route 수신 봉투 하나를 처리한다. 연결의 읽기 루프에서 순서대로 호출된다.
func (h *Hub) route(b *board, s *session.Session, data []byte) {
	in, err := protocol.Decode(data)
	if err != nil {
		h.metrics.ProtocolErrors.Inc()
		h.reject(s, err)
		return
	}
	h.metrics.EnvelopesIn.WithLabelValues(string(in.Kind)).Inc()

	switch in.Kind {
	case protocol.KindCursor:
		h.handleCursor(b, s, in)
	case protocol.KindElementUpsert:
		h.handleUpsert(b, s, in)
	case protocol.KindElementDelete:
		h.handleDelete(b, s, in)
	}
}

// handleCursor 위치 저장 후 다른 멤버에게 전달 (보낸 쪽에는 되돌리지 않음)
func (h *Hub) handleCursor(b *board, s *session.Session, in *protocol.Inbound) {
	s.SetCursor(in.X, in.Y)
	p := h.presenceOf(s)

	ctx, cancel := h.storeContext()
	if err := h.presence.Upsert(ctx, b.id, s.ID, p); err != nil {
		h.log.Warn("presence upsert failed", zap.String("conn", s.ID), zap.Error(err))
	}
	cancel()

	msg, err := protocol.Encode(protocol.NewCursor(p))
	if err != nil {
		h.log.Error("encode cursor", zap.Error(err))
		return
	}
	b.broadcast(protocol.KindCursor, msg, s.ID, false)
}

// handleUpsert 저장 성공 후에만 팬아웃하고 보낸 쪽에는 ack 를 준다.
func (h *Hub) handleUpsert(b *board, s *session.Session, in *protocol.Inbound) {
	el := in.Element
	switch el.BoardID {
	case "":
		el.BoardID = b.id
	case b.id:
	default:
		h.metrics.ProtocolErrors.Inc()
		h.reject(s, &protocol.ProtocolError{Kind: in.Kind, Reason: "element belongs to another board"})
		return
	}
	el.Version = 0
	el.UpdatedBy = s.Identity.UserID
	el.ApplyDefaults()
	if err := el.Validate(); err != nil {
		h.metrics.ProtocolErrors.Inc()
		h.reject(s, &protocol.ProtocolError{Kind: in.Kind, Reason: err.Error()})
		return
	}

	b.mutation.Lock()
	defer b.mutation.Unlock()

	ctx, cancel := h.storeContext()
	start := time.Now()
	change, err := h.store.UpsertElement(ctx, el)
	cancel()
	h.metrics.StoreLatency.WithLabelValues("upsert").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, store.ErrImmutableField) {
			h.metrics.ProtocolErrors.Inc()
			h.reject(s, &protocol.ProtocolError{Kind: in.Kind, Reason: err.Error()})
			return
		}
		h.metrics.StoreErrors.WithLabelValues("upsert").Inc()
		h.log.Warn("store upsert failed", zap.String("board", b.id), zap.String("element", el.ID), zap.Error(err))
		h.reject(s, &StoreError{Op: "upsert", ID: el.ID, Err: err})
		return
	}

	saved := change.Element
	b.observe(saved.ID, saved.Version)
	if msg, err := protocol.Encode(protocol.NewElementUpsert(saved)); err == nil {
		b.broadcast(protocol.KindElementUpsert, msg, s.ID, true)
	}
	h.send(s, protocol.KindElementAck, protocol.NewElementAck(saved.ID, saved.Version, false))
}

// handleDelete 없는 요소 삭제도 성공으로 처리하고 전달한다.
func (h *Hub) handleDelete(b *board, s *session.Session, in *protocol.Inbound) {
	b.mutation.Lock()
	defer b.mutation.Unlock()

	ctx, cancel := h.storeContext()
	start := time.Now()
	change, err := h.store.DeleteElement(ctx, b.id, in.DeleteID)
	cancel()
	h.metrics.StoreLatency.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.StoreErrors.WithLabelValues("delete").Inc()
		h.log.Warn("store delete failed", zap.String("board", b.id), zap.String("element", in.DeleteID), zap.Error(err))
		h.reject(s, &StoreError{Op: "delete", ID: in.DeleteID, Err: err})
		return
	}

	var version int64
	if change.Element != nil {
		version = change.Element.Version
		b.observe(in.DeleteID, version)
	}
	if msg, err := protocol.Encode(protocol.NewElementDelete(in.DeleteID)); err == nil {
		b.broadcast(protocol.KindElementDelete, msg, s.ID, true)
	}
	h.send(s, protocol.KindElementAck, protocol.NewElementAck(in.DeleteID, version, true))
}

// send 한 연결에 봉투 하나 전송
func (h *Hub) send(s *session.Session, kind protocol.Kind, v any) {
	msg, err := protocol.Encode(v)
	if err != nil {
		h.log.Error("encode envelope", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	h.deliver(s, kind, msg, true)
}

// reject 보낸 쪽에게만 error 봉투. 연결은 유지한다.
func (h *Hub) reject(s *session.Session, err error) {
	var (
		protoErr *protocol.ProtocolError
		storeErr *StoreError
		env      protocol.ErrorMessage
	)
	switch {
	case errors.As(err, &protoErr):
		env = protocol.NewError(protocol.CodeProtocol, protoErr.Error())
	case errors.As(err, &storeErr):
		env = protocol.NewError(protocol.CodeStore, storeErr.ClientMessage())
	default:
		h.log.Error("unexpected error", zap.String("conn", s.ID), zap.Error(err))
		env = protocol.NewError(protocol.CodeInternal, "internal error")
	}
	h.send(s, protocol.KindError, env)
}
