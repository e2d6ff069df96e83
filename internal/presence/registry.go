package presence

import (
	"context"

	"realtime-whiteboard/internal/model"
)

// Registry 보드별 연결 presence 저장소
//
// (boardID, connectionID) 당 레코드는 최대 하나이다. Upsert 는 무조건 덮어쓰고,
// Remove 는 없는 레코드에 대해서도 에러 없이 끝난다.
type Registry interface {
	Upsert(ctx context.Context, boardID, connectionID string, p model.Presence) error
	Remove(ctx context.Context, boardID, connectionID string) error
	List(ctx context.Context, boardID string) ([]model.Presence, error)
}
