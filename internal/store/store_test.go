package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"realtime-whiteboard/internal/model"
	"realtime-whiteboard/internal/pubsub"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Element{}))
	return db
}

type storeFactory func(t *testing.T, ps pubsub.Pubsub, origin string) ElementStore

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, ps pubsub.Pubsub, origin string) ElementStore {
			return NewMemoryStore(ps, origin, zaptest.NewLogger(t))
		},
		"gorm": func(t *testing.T, ps pubsub.Pubsub, origin string) ElementStore {
			return NewGormStore(newSQLiteDB(t), ps, origin, zaptest.NewLogger(t))
		},
	}
}

func rect(id, board string, x float64) *model.Element {
	e := &model.Element{ID: id, BoardID: board, Type: model.ElementRectangle, X: x, Y: 10}
	e.ApplyDefaults()
	return e
}

func TestStore_InsertThenUpdateBumpsVersion(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, nil, "i1")
			ctx := context.Background()

			ch, err := s.UpsertElement(ctx, rect("e1", "b1", 10))
			require.NoError(t, err)
			assert.Equal(t, OpInsert, ch.Op)
			assert.Equal(t, int64(1), ch.Element.Version)

			ch, err = s.UpsertElement(ctx, rect("e1", "b1", 42))
			require.NoError(t, err)
			assert.Equal(t, OpUpdate, ch.Op)
			assert.Equal(t, int64(2), ch.Element.Version)
			assert.Equal(t, 42.0, ch.Element.X)

			list, err := s.ListElements(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, list, 1, "re-upserting the same id never duplicates")
			assert.Equal(t, 42.0, list[0].X)
			assert.Equal(t, int64(2), list[0].Version)
		})
	}
}

func TestStore_LastWriteWins(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, nil, "i1")
			ctx := context.Background()

			for i := 1; i <= 5; i++ {
				_, err := s.UpsertElement(ctx, rect("e1", "b1", float64(i)))
				require.NoError(t, err)
			}

			list, err := s.ListElements(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, 5.0, list[0].X)
			assert.Equal(t, int64(5), list[0].Version)
		})
	}
}

func TestStore_ContentDefaultOnlyOnInsert(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, nil, "i1")
			ctx := context.Background()

			note := &model.Element{ID: "t1", BoardID: "b1", Type: model.ElementText, StrokeWidth: 1}
			ch, err := s.UpsertElement(ctx, note)
			require.NoError(t, err)
			assert.Equal(t, "New text", ch.Element.Content)

			written := note.Clone()
			written.Content = "hello"
			_, err = s.UpsertElement(ctx, written)
			require.NoError(t, err)

			cleared := note.Clone()
			cleared.Content = ""
			ch, err = s.UpsertElement(ctx, cleared)
			require.NoError(t, err)
			assert.Empty(t, ch.Element.Content)

			list, err := s.ListElements(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Empty(t, list[0].Content, "a cleared text stays cleared")
			assert.Equal(t, int64(3), list[0].Version)
		})
	}
}

func TestStore_RejectsImmutableChanges(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, nil, "i1")
			ctx := context.Background()

			_, err := s.UpsertElement(ctx, rect("e1", "b1", 10))
			require.NoError(t, err)

			circle := rect("e1", "b1", 10)
			circle.Type = model.ElementCircle
			_, err = s.UpsertElement(ctx, circle)
			assert.ErrorIs(t, err, ErrImmutableField)

			_, err = s.UpsertElement(ctx, rect("e1", "b2", 10))
			assert.ErrorIs(t, err, ErrImmutableField)

			list, err := s.ListElements(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, model.ElementRectangle, list[0].Type)
		})
	}
}

func TestStore_DeleteIsIdempotentAndBoardScoped(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, nil, "i1")
			ctx := context.Background()

			_, err := s.UpsertElement(ctx, rect("e1", "b1", 10))
			require.NoError(t, err)

			ch, err := s.DeleteElement(ctx, "b2", "e1")
			require.NoError(t, err)
			assert.Nil(t, ch.Element, "other board cannot delete")

			ch, err = s.DeleteElement(ctx, "b1", "e1")
			require.NoError(t, err)
			assert.Equal(t, OpDelete, ch.Op)
			require.NotNil(t, ch.Element)
			assert.Equal(t, "e1", ch.Element.ID)

			ch, err = s.DeleteElement(ctx, "b1", "e1")
			require.NoError(t, err)
			assert.Nil(t, ch.Element)

			list, err := s.ListElements(ctx, "b1")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestStore_ListIsBoardScopedAndOrdered(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, nil, "i1")
			ctx := context.Background()

			for _, id := range []string{"a", "b", "c"} {
				_, err := s.UpsertElement(ctx, rect(id, "b1", 1))
				require.NoError(t, err)
				time.Sleep(2 * time.Millisecond)
			}
			_, err := s.UpsertElement(ctx, rect("z", "b2", 1))
			require.NoError(t, err)

			list, err := s.ListElements(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "a", list[0].ID)
			assert.Equal(t, "c", list[2].ID)
		})
	}
}

func TestStore_PenPointsRoundTrip(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, nil, "i1")
			ctx := context.Background()

			pen := &model.Element{ID: "p1", BoardID: "b1", Type: model.ElementPen, Points: []model.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}}
			pen.ApplyDefaults()
			_, err := s.UpsertElement(ctx, pen)
			require.NoError(t, err)

			list, err := s.ListElements(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Len(t, list[0].Points, 2)
			assert.Equal(t, model.Point{X: 3, Y: 4}, list[0].Points[1])
			assert.Nil(t, list[0].Width)
		})
	}
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) get() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

// gapPubsub 구독자에게 유실 통지를 직접 보낼 수 있는 메모리 Pubsub
type gapPubsub struct {
	*pubsub.MemoryPubsub

	mu        sync.Mutex
	listeners []pubsub.ListenerWithErr
}

func (p *gapPubsub) SubscribeWithErr(channel string, listener pubsub.ListenerWithErr) (func(), error) {
	p.mu.Lock()
	p.listeners = append(p.listeners, listener)
	p.mu.Unlock()
	return p.MemoryPubsub.SubscribeWithErr(channel, listener)
}

func (p *gapPubsub) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.listeners {
		l(context.Background(), nil, pubsub.ErrDroppedMessages)
	}
}

func TestStore_FeedGapBecomesResync(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ps := &gapPubsub{MemoryPubsub: pubsub.NewInMemory()}
			defer ps.Close()
			s := factory(t, ps, "instance-a")

			var rec changeRecorder
			cancel, err := s.SubscribeChanges(context.Background(), "b1", rec.record)
			require.NoError(t, err)
			defer cancel()

			ps.drop()

			got := rec.get()
			require.Len(t, got, 1)
			assert.Equal(t, OpResync, got[0].Op)
			assert.Equal(t, "b1", got[0].BoardID)
			assert.Nil(t, got[0].Element)
		})
	}
}

func TestStore_ChangeFeed(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ps := pubsub.NewInMemory()
			defer ps.Close()
			s := factory(t, ps, "instance-a")
			ctx := context.Background()

			var rec changeRecorder
			cancel, err := s.SubscribeChanges(ctx, "b1", rec.record)
			require.NoError(t, err)
			defer cancel()

			_, err = s.UpsertElement(ctx, rect("e1", "b1", 1))
			require.NoError(t, err)
			_, err = s.UpsertElement(ctx, rect("e1", "b1", 2))
			require.NoError(t, err)
			_, err = s.UpsertElement(ctx, rect("other", "b2", 1))
			require.NoError(t, err)
			_, err = s.DeleteElement(ctx, "b1", "missing")
			require.NoError(t, err)
			_, err = s.DeleteElement(ctx, "b1", "e1")
			require.NoError(t, err)

			require.Eventually(t, func() bool { return len(rec.get()) == 3 }, 2*time.Second, 5*time.Millisecond)
			time.Sleep(20 * time.Millisecond)

			got := rec.get()
			require.Len(t, got, 3, "absent delete and other board publish nothing")
			assert.Equal(t, OpInsert, got[0].Op)
			assert.Equal(t, OpUpdate, got[1].Op)
			assert.Equal(t, int64(2), got[1].Element.Version)
			assert.Equal(t, OpDelete, got[2].Op)
			for _, c := range got {
				assert.Equal(t, "instance-a", c.Origin)
				assert.Equal(t, "b1", c.BoardID)
			}
		})
	}
}

func TestStore_SubscriptionEndsWithContext(t *testing.T) {
	ps := pubsub.NewInMemory()
	defer ps.Close()
	s := NewMemoryStore(ps, "i1", zaptest.NewLogger(t))

	ctx, cancelCtx := context.WithCancel(context.Background())
	var rec changeRecorder
	cancel, err := s.SubscribeChanges(ctx, "b1", rec.record)
	require.NoError(t, err)
	defer cancel()

	cancelCtx()
	time.Sleep(20 * time.Millisecond)

	_, err = s.UpsertElement(context.Background(), rect("e1", "b1", 1))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.get())
}

func TestMemoryStore_FailWrites(t *testing.T) {
	s := NewMemoryStore(nil, "i1", zaptest.NewLogger(t))
	boom := errors.New("boom")
	s.FailWrites(boom)

	_, err := s.UpsertElement(context.Background(), rect("e1", "b1", 1))
	assert.ErrorIs(t, err, boom)

	s.FailWrites(nil)
	_, err = s.UpsertElement(context.Background(), rect("e1", "b1", 1))
	assert.NoError(t, err)
}

func TestStore_HonorsContext(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, nil, "i1")
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := s.UpsertElement(ctx, rect("e1", "b1", 1))
			assert.Error(t, err)
		})
	}
}
