package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"realtime-whiteboard/internal/model"
)

// Membership 보드 접근 권한 확인
type Membership interface {
	IsBoardMember(ctx context.Context, boardID, userID string) (bool, error)
}

// MemberService 보드 멤버십 조회 (소유자 또는 협업자)
type MemberService struct {
	db *gorm.DB
}

// NewMemberService MemberService 생성
func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

// IsBoardOwner 보드 소유자 여부 확인
func (s *MemberService) IsBoardOwner(ctx context.Context, boardID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Board{}).
		Where("id = ? AND owner_id = ?", boardID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("board owner lookup: %w", err)
	}
	return count > 0, nil
}

// IsBoardCollaborator 협업자 여부 확인
func (s *MemberService) IsBoardCollaborator(ctx context.Context, boardID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.BoardCollaborator{}).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("board collaborator lookup: %w", err)
	}
	return count > 0, nil
}

// IsBoardMember 소유자 또는 협업자 여부 확인
func (s *MemberService) IsBoardMember(ctx context.Context, boardID, userID string) (bool, error) {
	owner, err := s.IsBoardOwner(ctx, boardID, userID)
	if err != nil || owner {
		return owner, err
	}
	return s.IsBoardCollaborator(ctx, boardID, userID)
}

// OpenMembership DB 없이 띄운 개발 모드용. 인증된 사용자는 모든 보드에 입장 가능.
type OpenMembership struct{}

func (OpenMembership) IsBoardMember(context.Context, string, string) (bool, error) {
	return true, nil
}
