package presence

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"realtime-whiteboard/internal/model"
)

// MemoryRegistry 단일 프로세스용 presence 저장소
//
// 보드 맵과 연결 맵 모두 xsync 샤드 맵이라 커서 갱신은 키 단위로만 잠긴다.
// 비어 있는 보드 맵은 지우지 않는다.
type MemoryRegistry struct {
	boards *xsync.MapOf[string, *xsync.MapOf[string, model.Presence]]
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		boards: xsync.NewMapOf[string, *xsync.MapOf[string, model.Presence]](),
	}
}

func (r *MemoryRegistry) board(boardID string) *xsync.MapOf[string, model.Presence] {
	m, _ := r.boards.LoadOrCompute(boardID, func() *xsync.MapOf[string, model.Presence] {
		return xsync.NewMapOf[string, model.Presence]()
	})
	return m
}

func (r *MemoryRegistry) Upsert(_ context.Context, boardID, connectionID string, p model.Presence) error {
	p.BoardID = boardID
	p.ConnectionID = connectionID
	r.board(boardID).Store(connectionID, p)
	return nil
}

func (r *MemoryRegistry) Remove(_ context.Context, boardID, connectionID string) error {
	if m, ok := r.boards.Load(boardID); ok {
		m.Delete(connectionID)
	}
	return nil
}

func (r *MemoryRegistry) List(_ context.Context, boardID string) ([]model.Presence, error) {
	m, ok := r.boards.Load(boardID)
	if !ok {
		return []model.Presence{}, nil
	}
	out := make([]model.Presence, 0, m.Size())
	m.Range(func(_ string, p model.Presence) bool {
		out = append(out, p)
		return true
	})
	sortPresence(out)
	return out, nil
}

// sortPresence 결과 순서 고정 (connectionID 순)
func sortPresence(list []model.Presence) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].ConnectionID < list[j].ConnectionID
	})
}
