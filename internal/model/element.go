package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"gorm.io/datatypes"
)

// 요소 검증 에러
var (
	ErrMissingID         = errors.New("element id is required")
	ErrMissingBoardID    = errors.New("element boardId is required")
	ErrUnknownType       = errors.New("unknown element type")
	ErrInvalidCoord      = errors.New("element coordinates must be finite")
	ErrInvalidSize       = errors.New("element width/height must be finite and non-negative")
	ErrInvalidStroke     = errors.New("strokeWidth must be >= 1")
	ErrInvalidColor      = errors.New("color must be a hex value")
	ErrPointsNotAllowed  = errors.New("points are only allowed on pen elements")
	ErrTooFewPoints      = errors.New("pen elements need at least 2 points")
	ErrContentNotAllowed = errors.New("content is only allowed on text and sticky elements")
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Point 펜 획의 한 점
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element 캔버스 요소 (board_elements)
type Element struct {
	ID          string                     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BoardID     string                     `gorm:"type:varchar(64);not null;index:idx_board_elements_board" json:"boardId"`
	Type        ElementType                `gorm:"type:varchar(20);not null" json:"type"`
	X           float64                    `gorm:"not null;default:0" json:"x"`
	Y           float64                    `gorm:"not null;default:0" json:"y"`
	Width       *float64                   `json:"width,omitempty"`
	Height      *float64                   `json:"height,omitempty"`
	Color       string                     `gorm:"type:varchar(20)" json:"color"`
	StrokeWidth int                        `gorm:"not null;default:1" json:"strokeWidth"`
	Content     string                     `gorm:"type:text" json:"content,omitempty"`
	Points      datatypes.JSONSlice[Point] `json:"points,omitempty"`
	Version     int64                      `gorm:"not null;default:0" json:"version"`
	UpdatedBy   string                     `gorm:"type:varchar(64)" json:"updatedBy,omitempty"`
	CreatedAt   time.Time                  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time                  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Element) TableName() string {
	return "board_elements"
}

// typeDefaults 도구별 기본값
type typeDefaults struct {
	width, height float64
	color       string
	strokeWidth int
	content     string
}

var elementDefaults = map[ElementType]typeDefaults{
	ElementRectangle: {width: 100, height: 60, color: "#f87171", strokeWidth: 1},
	ElementCircle:    {width: 80, height: 80, color: "#60a5fa", strokeWidth: 1},
	ElementText:      {color: "#000000", strokeWidth: 1, content: "New text"},
	ElementSticky:    {width: 120, height: 120, color: "#facc15", strokeWidth: 1, content: "Sticky note"},
	ElementFrame:     {width: 200, height: 150, color: "#9ca3af", strokeWidth: 1},
	ElementLine:      {color: "#374151", strokeWidth: 2},
	ElementArrow:     {color: "#374151", strokeWidth: 2},
	ElementPen:       {color: "#374151", strokeWidth: 2},
}

// ApplyDefaults 비어 있는 필드에 타입별 기본값 적용
func (e *Element) ApplyDefaults() {
	d, ok := elementDefaults[e.Type]
	if !ok {
		return
	}
	if e.Color == "" {
		e.Color = d.color
	}
	if e.StrokeWidth == 0 {
		e.StrokeWidth = d.strokeWidth
	}
	// text는 크기 자동 (클라이언트가 지정하지 않으면 비워둠)
	if !e.Type.HasGeometry() || e.Type == ElementText {
		return
	}
	w, h := d.width, d.height
	if w == 0 {
		w, h = 100, 100
	}
	if e.Width == nil {
		e.Width = &w
	}
	if e.Height == nil {
		e.Height = &h
	}
}

// ApplyInsertDefaults 새로 만들어지는 요소에만 적용되는 기본값 (text/sticky 내용)
//
// 기존 요소의 content 를 비우는 수정은 그대로 저장되어야 하므로 ApplyDefaults 와 분리한다.
func (e *Element) ApplyInsertDefaults() {
	d, ok := elementDefaults[e.Type]
	if !ok {
		return
	}
	if e.Type.HasContent() && e.Content == "" {
		e.Content = d.content
	}
}

// Validate 타입별 불변식 검증
func (e *Element) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.BoardID == "" {
		return ErrMissingBoardID
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if !finite(e.X) || !finite(e.Y) {
		return ErrInvalidCoord
	}
	for _, v := range []*float64{e.Width, e.Height} {
		if v != nil && (!finite(*v) || *v < 0) {
			return ErrInvalidSize
		}
	}
	if e.StrokeWidth < 1 {
		return ErrInvalidStroke
	}
	if e.Color != "" && !hexColor.MatchString(e.Color) {
		return ErrInvalidColor
	}
	if e.Content != "" && !e.Type.HasContent() {
		return ErrContentNotAllowed
	}
	if e.Type != ElementPen {
		if len(e.Points) > 0 {
			return ErrPointsNotAllowed
		}
		return nil
	}
	if len(e.Points) < 2 {
		return ErrTooFewPoints
	}
	for _, p := range e.Points {
		if !finite(p.X) || !finite(p.Y) {
			return ErrInvalidCoord
		}
	}
	return nil
}

// CopyMutable 변경 가능한 필드만 복사 (id, boardId, type 제외)
func (e *Element) CopyMutable(src *Element) {
	e.X = src.X
	e.Y = src.Y
	e.Width = src.Width
	e.Height = src.Height
	e.Color = src.Color
	e.StrokeWidth = src.StrokeWidth
	e.Content = src.Content
	e.Points = src.Points
	e.UpdatedBy = src.UpdatedBy
}

// Clone 깊은 복사
func (e *Element) Clone() *Element {
	c := *e
	if e.Width != nil {
		w := *e.Width
		c.Width = &w
	}
	if e.Height != nil {
		h := *e.Height
		c.Height = &h
	}
	if e.Points != nil {
		c.Points = append(datatypes.JSONSlice[Point](nil), e.Points...)
	}
	return &c
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
