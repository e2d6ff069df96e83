package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"realtime-whiteboard/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDecode_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		input string
		kind  Kind
	}{
		{"not json", `hello`, ""},
		{"missing kind", `{"x":1,"y":2}`, ""},
		{"empty kind", `{"kind":""}`, ""},
		{"unknown kind", `{"kind":"shape.rotate"}`, "shape.rotate"},
		{"server only kind", `{"kind":"snapshot","elements":[]}`, KindSnapshot},
		{"error kind from client", `{"kind":"error","message":"x"}`, KindError},
		{"cursor without y", `{"kind":"cursor","x":1}`, KindCursor},
		{"cursor with string x", `{"kind":"cursor","x":"1","y":2}`, ""},
		{"upsert without id", `{"kind":"element.upsert","type":"rectangle"}`, KindElementUpsert},
		{"upsert with bad points", `{"kind":"element.upsert","id":"p1","type":"pen","points":"1,2"}`, KindElementUpsert},
		{"delete without id", `{"kind":"element.delete"}`, KindElementDelete},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := Decode([]byte(tc.input))
			require.Error(t, err)
			assert.Nil(t, in)

			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.kind, perr.Kind)
		})
	}
}

func TestDecode_Cursor(t *testing.T) {
	in, err := Decode([]byte(`{"kind":"cursor","x":12.5,"y":-3,"userId":"spoofed","name":"Mallory","color":"#000"}`))
	require.NoError(t, err)

	assert.Equal(t, KindCursor, in.Kind)
	assert.Equal(t, 12.5, in.X)
	assert.Equal(t, -3.0, in.Y)
}

func TestDecode_CursorAtOrigin(t *testing.T) {
	in, err := Decode([]byte(`{"kind":"cursor","x":0,"y":0}`))
	require.NoError(t, err)
	assert.Zero(t, in.X)
	assert.Zero(t, in.Y)
}

func TestDecode_ElementUpsert(t *testing.T) {
	in, err := Decode([]byte(`{"kind":"element.upsert","id":"e1","type":"rectangle","x":10,"y":10,"width":100,"height":60,"color":"#f87171"}`))
	require.NoError(t, err)

	require.NotNil(t, in.Element)
	assert.Equal(t, "e1", in.Element.ID)
	assert.Equal(t, 10.0, in.Element.X)
	assert.Equal(t, model.ElementRectangle, in.Element.Type)
	require.NotNil(t, in.Element.Width)
	assert.Equal(t, 100.0, *in.Element.Width)
	assert.Equal(t, "#f87171", in.Element.Color)
}

func TestDecode_PenPoints(t *testing.T) {
	in, err := Decode([]byte(`{"kind":"element.upsert","id":"p1","type":"pen","points":[{"x":1,"y":2},{"x":3,"y":4}]}`))
	require.NoError(t, err)

	require.Len(t, in.Element.Points, 2)
	assert.Equal(t, model.Point{X: 3, Y: 4}, in.Element.Points[1])
}

func TestDecode_ElementDelete(t *testing.T) {
	in, err := Decode([]byte(`{"kind":"element.delete","id":"e1"}`))
	require.NoError(t, err)
	assert.Equal(t, KindElementDelete, in.Kind)
	assert.Equal(t, "e1", in.DeleteID)
}

func TestEncode_WireShapes(t *testing.T) {
	p := model.Presence{ConnectionID: "c1", UserID: "u1", DisplayName: "Ann", Color: "#3b82f6", X: 4, Y: 5}

	data, err := Encode(NewCursor(p))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"cursor","connectionId":"c1","userId":"u1","name":"Ann","color":"#3b82f6","x":4,"y":5}`, string(data))

	data, err = Encode(NewError(CodeProtocol, "missing kind"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"error","code":"protocol","message":"missing kind"}`, string(data))

	w, h := 100.0, 60.0
	data, err = Encode(NewElementUpsert(&model.Element{
		ID: "e1", BoardID: "b1", Type: model.ElementRectangle, X: 10, Y: 20,
		Width: &w, Height: &h, Color: "#f87171", StrokeWidth: 1, Version: 2,
	}))
	require.NoError(t, err)
	var upsert map[string]any
	require.NoError(t, json.Unmarshal(data, &upsert))
	assert.Equal(t, "element.upsert", upsert["kind"])
	assert.Equal(t, "e1", upsert["id"])
	assert.Equal(t, "rectangle", upsert["type"])
	assert.Equal(t, 10.0, upsert["x"])
	assert.Equal(t, 100.0, upsert["width"])
	assert.Equal(t, 2.0, upsert["version"])
	assert.NotContains(t, upsert, "element")

	data, err = Encode(NewElementDelete("e1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"element.delete","id":"e1"}`, string(data))
}

func TestEncode_EmptySnapshotUsesArrays(t *testing.T) {
	data, err := Encode(NewSnapshot("c1", nil, nil))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []any{}, got["elements"])
	assert.Equal(t, []any{}, got["presence"])
	assert.Equal(t, "c1", got["connectionId"])
}
