package model

// ElementType 캔버스 요소 타입 (생성 후 변경 불가)
type ElementType string

const (
	ElementRectangle ElementType = "rectangle"
	ElementCircle    ElementType = "circle"
	ElementText      ElementType = "text"
	ElementSticky    ElementType = "sticky"
	ElementFrame     ElementType = "frame"
	ElementLine      ElementType = "line"
	ElementArrow     ElementType = "arrow"
	ElementPen       ElementType = "pen"
)

func (t ElementType) String() string {
	return string(t)
}

// Valid 닫힌 열거형 확인
func (t ElementType) Valid() bool {
	switch t {
	case ElementRectangle, ElementCircle, ElementText, ElementSticky,
		ElementFrame, ElementLine, ElementArrow, ElementPen:
		return true
	}
	return false
}

// HasGeometry width/height 사용 여부 (pen 제외)
func (t ElementType) HasGeometry() bool {
	return t.Valid() && t != ElementPen
}

// HasContent content 사용 여부
func (t ElementType) HasContent() bool {
	return t == ElementText || t == ElementSticky
}

// CollaboratorRole 보드 협업자 역할
type CollaboratorRole string

const (
	CollaboratorEditor CollaboratorRole = "editor"
	CollaboratorViewer CollaboratorRole = "viewer"
)

func (r CollaboratorRole) String() string {
	return string(r)
}
