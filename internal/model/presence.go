package model

import "time"

// Presence 연결 단위 커서/신원 정보 (영속화하지 않음)
type Presence struct {
	ConnectionID string    `json:"connectionId"`
	BoardID      string    `json:"boardId"`
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"name"`
	Color        string    `json:"color"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var presencePalette = []string{"#3b82f6", "#10b981", "#f59e0b", "#ef4444", "#8b5cf6"}

// ColorForUser 사용자 ID 기반의 고정 색상
func ColorForUser(userID string) string {
	sum := 0
	for _, r := range userID {
		sum += int(r)
	}
	return presencePalette[sum%len(presencePalette)]
}
