package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-whiteboard/internal/model"
	"realtime-whiteboard/internal/pubsub"
)

var (
	// ErrImmutableField upsert 가 boardId 나 type 을 바꾸려 할 때
	ErrImmutableField = errors.New("element boardId and type cannot change")
)

// Op 커밋된 변경 종류
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	// OpResync 피드가 메시지를 놓쳤을 수 있음. 구독자는 저장소에서 다시 읽어야 한다.
	OpResync Op = "resync"
)

// Change 변경 피드로 보이는 커밋 하나. 지울 행이 없던 delete 는 Element 가 nil
type Change struct {
	Op      Op             `json:"op"`
	BoardID string         `json:"boardId"`
	Element *model.Element `json:"element,omitempty"`
	Origin  string         `json:"origin"`
}

// ElementStore 캔버스 요소의 영속 저장소
type ElementStore interface {
	ListElements(ctx context.Context, boardID string) ([]*model.Element, error)
	// UpsertElement 없으면 version 1 로 삽입, 있으면 변경 가능한 필드를 모두 덮어쓰고 version 증가
	UpsertElement(ctx context.Context, el *model.Element) (Change, error)
	// DeleteElement 보드에 있으면 삭제. 없는 요소 삭제는 성공이며 아무것도 발행하지 않는다.
	DeleteElement(ctx context.Context, boardID, id string) (Change, error)
	// SubscribeChanges cancel 이나 ctx 종료 전까지 보드의 커밋을 요소별 순서대로 전달.
	// 피드가 메시지를 놓쳤을 수 있으면 Op 가 OpResync 인 Change 를 전달한다.
	SubscribeChanges(ctx context.Context, boardID string, fn func(Change)) (cancel func(), err error)
}

// changeFeed 보드 채널로 커밋 발행
type changeFeed struct {
	ps     pubsub.Pubsub
	origin string
	log    *zap.Logger
}

func (f changeFeed) publish(ctx context.Context, change Change) {
	if f.ps == nil {
		return
	}
	change.Origin = f.origin
	data, err := json.Marshal(change)
	if err != nil {
		f.log.Error("encode change", zap.Error(err))
		return
	}

	// 커밋은 이미 끝났으므로 호출자의 취소와 무관하게 발행
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := f.ps.Publish(pubCtx, pubsub.BoardChannel(change.BoardID), data); err != nil {
		f.log.Warn("publish change failed",
			zap.String("board", change.BoardID),
			zap.String("op", string(change.Op)),
			zap.Error(err))
	}
}

func (f changeFeed) subscribe(ctx context.Context, boardID string, fn func(Change)) (func(), error) {
	if f.ps == nil {
		return func() {}, nil
	}
	unsubscribe, err := f.ps.SubscribeWithErr(pubsub.BoardChannel(boardID), func(_ context.Context, message []byte, err error) {
		if err != nil {
			if errors.Is(err, pubsub.ErrDroppedMessages) {
				fn(Change{Op: OpResync, BoardID: boardID})
			}
			return
		}
		var change Change
		if err := json.Unmarshal(message, &change); err != nil {
			f.log.Warn("decode change", zap.String("board", boardID), zap.Error(err))
			return
		}
		if change.BoardID != boardID {
			return
		}
		fn(change)
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	cancel := func() { once.Do(unsubscribe) }
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}
