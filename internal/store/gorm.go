package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"realtime-whiteboard/internal/model"
	"realtime-whiteboard/internal/pubsub"
)

// GormStore board_elements 테이블 기반 저장소
type GormStore struct {
	db   *gorm.DB
	feed changeFeed
}

// NewGormStore 생성자. ps 가 nil 이면 변경 피드를 발행하지 않는다.
func NewGormStore(db *gorm.DB, ps pubsub.Pubsub, origin string, log *zap.Logger) *GormStore {
	return &GormStore{
		db:   db,
		feed: changeFeed{ps: ps, origin: origin, log: log},
	}
}

// ListElements 보드의 전체 요소 (생성 순)
func (s *GormStore) ListElements(ctx context.Context, boardID string) ([]*model.Element, error) {
	var elements []*model.Element
	err := s.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("created_at ASC, id ASC").
		Find(&elements).Error
	if err != nil {
		return nil, fmt.Errorf("list elements %s: %w", boardID, err)
	}
	return elements, nil
}

// lockRow SELECT ... FOR UPDATE (postgres 에서만)
func (s *GormStore) lockRow(tx *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// UpsertElement 없으면 version 1 로 생성, 있으면 변경 가능한 필드를 덮어쓰고 version 증가
func (s *GormStore) UpsertElement(ctx context.Context, el *model.Element) (Change, error) {
	var change Change

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Element
		err := s.lockRow(tx).Where("id = ?", el.ID).Take(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			row := el.Clone()
			row.ApplyInsertDefaults()
			row.Version = 1
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			change = Change{Op: OpInsert, BoardID: row.BoardID, Element: row}
			return nil
		}
		if err != nil {
			return err
		}

		if existing.BoardID != el.BoardID || existing.Type != el.Type {
			return ErrImmutableField
		}

		existing.CopyMutable(el)
		existing.Version++
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		change = Change{Op: OpUpdate, BoardID: existing.BoardID, Element: &existing}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrImmutableField) {
			return Change{}, err
		}
		return Change{}, fmt.Errorf("upsert element %s: %w", el.ID, err)
	}

	s.feed.publish(ctx, change)
	return change, nil
}

// DeleteElement 보드에 속한 요소 삭제 (없으면 no-op)
func (s *GormStore) DeleteElement(ctx context.Context, boardID, id string) (Change, error) {
	change := Change{Op: OpDelete, BoardID: boardID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Element
		err := s.lockRow(tx).Where("id = ? AND board_id = ?", id, boardID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&existing).Error; err != nil {
			return err
		}
		change.Element = &existing
		return nil
	})
	if err != nil {
		return Change{}, fmt.Errorf("delete element %s: %w", id, err)
	}

	if change.Element != nil {
		s.feed.publish(ctx, change)
	}
	return change, nil
}

// SubscribeChanges 보드 변경 피드 구독
func (s *GormStore) SubscribeChanges(ctx context.Context, boardID string, fn func(Change)) (func(), error) {
	return s.feed.subscribe(ctx, boardID, fn)
}
