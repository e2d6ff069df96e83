package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-whiteboard/internal/model"
	"realtime-whiteboard/internal/pubsub"
)

type memoryRow struct {
	seq     int64
	element *model.Element
}

// MemoryStore 개발/테스트용 인메모리 저장소 (GormStore 와 같은 의미론)
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*memoryRow
	seq  int64
	feed changeFeed

	// 설정되면 모든 쓰기가 이 에러로 실패 (테스트용)
	failMu   sync.RWMutex
	failWith error
}

func NewMemoryStore(ps pubsub.Pubsub, origin string, log *zap.Logger) *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*memoryRow),
		feed: changeFeed{ps: ps, origin: origin, log: log},
	}
}

// FailWrites 이후 모든 쓰기를 err 로 실패시킨다 (nil 이면 복구)
func (s *MemoryStore) FailWrites(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failWith = err
}

func (s *MemoryStore) writeErr() error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.failWith
}

func (s *MemoryStore) ListElements(ctx context.Context, boardID string) ([]*model.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rows := make([]*memoryRow, 0)
	for _, r := range s.rows {
		if r.element.BoardID == boardID {
			rows = append(rows, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]*model.Element, len(rows))
	for i, r := range rows {
		out[i] = r.element.Clone()
	}
	return out, nil
}

func (s *MemoryStore) UpsertElement(ctx context.Context, el *model.Element) (Change, error) {
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	if err := s.writeErr(); err != nil {
		return Change{}, err
	}

	now := time.Now()
	s.mu.Lock()
	var change Change
	if r, ok := s.rows[el.ID]; ok {
		existing := r.element
		if existing.BoardID != el.BoardID || existing.Type != el.Type {
			s.mu.Unlock()
			return Change{}, ErrImmutableField
		}
		updated := existing.Clone()
		updated.CopyMutable(el.Clone())
		updated.Version++
		updated.UpdatedAt = now
		r.element = updated
		change = Change{Op: OpUpdate, BoardID: updated.BoardID, Element: updated.Clone()}
	} else {
		row := el.Clone()
		row.ApplyInsertDefaults()
		row.Version = 1
		row.CreatedAt = now
		row.UpdatedAt = now
		s.seq++
		s.rows[el.ID] = &memoryRow{seq: s.seq, element: row}
		change = Change{Op: OpInsert, BoardID: row.BoardID, Element: row.Clone()}
	}
	// 발행 순서 = 커밋 순서
	s.feed.publish(ctx, change)
	s.mu.Unlock()

	return change, nil
}

func (s *MemoryStore) DeleteElement(ctx context.Context, boardID, id string) (Change, error) {
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	if err := s.writeErr(); err != nil {
		return Change{}, err
	}

	change := Change{Op: OpDelete, BoardID: boardID}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok || r.element.BoardID != boardID {
		return change, nil
	}
	delete(s.rows, id)
	change.Element = r.element.Clone()
	s.feed.publish(ctx, change)
	return change, nil
}

func (s *MemoryStore) SubscribeChanges(ctx context.Context, boardID string, fn func(Change)) (func(), error) {
	return s.feed.subscribe(ctx, boardID, fn)
}
