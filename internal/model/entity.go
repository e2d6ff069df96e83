package model

import (
	"time"
)

// User 사용자
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Board 보드 (외부 CRUD 소유, 여기서는 라우팅 키로만 사용)
type Board struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID   string    `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Collaborators []BoardCollaborator `gorm:"foreignKey:BoardID" json:"collaborators,omitempty"`
}

func (Board) TableName() string {
	return "boards"
}

// BoardCollaborator 보드 협업자
type BoardCollaborator struct {
	BoardID   string           `gorm:"primaryKey;type:varchar(64)" json:"board_id"`
	UserID    string           `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Role      CollaboratorRole `gorm:"type:varchar(20);default:'editor'" json:"role"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (BoardCollaborator) TableName() string {
	return "board_collaborators"
}
