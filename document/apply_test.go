package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashsync/operation"
)

func testState() State {
	return State{
		"title": "Revenue overview",
		"widgets": []any{
			map[string]any{"title": "Orders", "style": map[string]any{"color": "blue"}},
			map[string]any{"title": "Covers"},
		},
		"layout": map[string]any{"columns": float64(12)},
	}
}

func apply(t *testing.T, s State, kind operation.Kind, path operation.Path, payload ...any) error {
	t.Helper()
	var p any
	if len(payload) > 0 {
		p = payload[0]
	}
	return s.Apply(&operation.Operation{ID: "op", Kind: kind, Path: path, Payload: p})
}

func TestApplyUpdateMapKey(t *testing.T) {
	s := testState()
	require.NoError(t, apply(t, s, operation.KindUpdate, operation.Path{"title"}, "Weekly revenue"))
	assert.Equal(t, "Weekly revenue", s["title"])
}

func TestApplyUpdateCreatesMissingKey(t *testing.T) {
	s := testState()
	require.NoError(t, apply(t, s, operation.KindUpdate, operation.Path{"subtitle"}, "Q2"))
	assert.Equal(t, "Q2", s["subtitle"])
}

func TestApplyUpdateSequenceElement(t *testing.T) {
	s := testState()
	require.NoError(t, apply(t, s, operation.KindUpdate, operation.Path{"widgets", "1", "title"}, "Guests"))
	widgets := s["widgets"].([]any)
	assert.Equal(t, "Guests", widgets[1].(map[string]any)["title"])
}

func TestApplyUpdateOutOfRangeIndexIsNoOp(t *testing.T) {
	s := testState()
	require.NoError(t, apply(t, s, operation.KindUpdate, operation.Path{"widgets", "9"}, "x"))
	assert.Len(t, s["widgets"].([]any), 2)
}

func TestApplyInsertIntoSequence(t *testing.T) {
	s := testState()
	require.NoError(t, apply(t, s, operation.KindInsert, operation.Path{"widgets", "1"},
		map[string]any{"title": "Tips"}))

	widgets := s["widgets"].([]any)
	require.Len(t, widgets, 3)
	assert.Equal(t, "Tips", widgets[1].(map[string]any)["title"])
	assert.Equal(t, "Covers", widgets[2].(map[string]any)["title"])
}

func TestApplyInsertPastEndAppends(t *testing.T) {
	s := testState()
	require.NoError(t, apply(t, s, operation.KindInsert, operation.Path{"widgets", "99"}, "tail"))

	widgets := s["widgets"].([]any)
	require.Len(t, widgets, 3)
	assert.Equal(t, "tail", widgets[2])
}

func TestApplyInsertIntoMap(t *testing.T) {
	s := testState()
	require.NoError(t, apply(t, s, operation.KindInsert, operation.Path{"layout", "rows"}, float64(4)))
	assert.Equal(t, float64(4), s["layout"].(map[string]any)["rows"])
}

func TestApplyDelete(t *testing.T) {
	s := testState()
	require.NoError(t, apply(t, s, operation.KindDelete, operation.Path{"widgets", "0"}))

	widgets := s["widgets"].([]any)
	require.Len(t, widgets, 1)
	assert.Equal(t, "Covers", widgets[0].(map[string]any)["title"])

	require.NoError(t, apply(t, s, operation.KindDelete, operation.Path{"title"}))
	_, ok := s["title"]
	assert.False(t, ok)
}

func TestApplyDeleteMissingTargetFails(t *testing.T) {
	s := testState()
	assert.Error(t, apply(t, s, operation.KindDelete, operation.Path{"nope"}))
	assert.Error(t, apply(t, s, operation.KindDelete, operation.Path{"widgets", "7"}))
}

func TestApplyMove(t *testing.T) {
	s := testState()
	err := s.Apply(&operation.Operation{
		ID:   "mv",
		Kind: operation.KindMove,
		Payload: operation.MovePayload{
			SourcePath: operation.Path{"widgets", "0"},
			TargetPath: operation.Path{"widgets", "1"},
		},
	})
	require.NoError(t, err)

	widgets := s["widgets"].([]any)
	require.Len(t, widgets, 2)
	assert.Equal(t, "Covers", widgets[0].(map[string]any)["title"])
	assert.Equal(t, "Orders", widgets[1].(map[string]any)["title"])
}

func TestApplyMoveUnresolvableIsNoOp(t *testing.T) {
	s := testState()
	err := s.Apply(&operation.Operation{
		ID:   "mv",
		Kind: operation.KindMove,
		Payload: operation.MovePayload{
			SourcePath: operation.Path{"widgets", "9"},
			TargetPath: operation.Path{"widgets", "0"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, s["widgets"].([]any), 2)
}

func TestApplyStyleMergesExisting(t *testing.T) {
	s := testState()
	err := s.Apply(&operation.Operation{
		ID:      "st",
		Kind:    operation.KindStyle,
		Path:    operation.Path{"widgets", "0"},
		Payload: operation.StylePayload{Style: map[string]any{"color": "red", "weight": "bold"}},
	})
	require.NoError(t, err)

	style := s["widgets"].([]any)[0].(map[string]any)["style"].(map[string]any)
	assert.Equal(t, "red", style["color"])
	assert.Equal(t, "bold", style["weight"])
}

func TestApplyStyleCreatesStyleKey(t *testing.T) {
	s := testState()
	err := s.Apply(&operation.Operation{
		ID:      "st",
		Kind:    operation.KindStyle,
		Path:    operation.Path{"widgets", "1"},
		Payload: operation.StylePayload{Style: map[string]any{"color": "green"}},
	})
	require.NoError(t, err)

	style := s["widgets"].([]any)[1].(map[string]any)["style"].(map[string]any)
	assert.Equal(t, "green", style["color"])
}

func TestApplyStyleOnScalarFails(t *testing.T) {
	s := testState()
	err := s.Apply(&operation.Operation{
		ID:      "st",
		Kind:    operation.KindStyle,
		Path:    operation.Path{"title"},
		Payload: operation.StylePayload{Style: map[string]any{"color": "red"}},
	})
	assert.Error(t, err)
}

func TestApplyBadPathFails(t *testing.T) {
	s := testState()
	assert.Error(t, apply(t, s, operation.KindUpdate, operation.Path{"title", "deep"}, "x"))
	assert.Error(t, apply(t, s, operation.KindUpdate, operation.Path{"missing", "deep"}, "x"))
}

func TestCloneIsDeep(t *testing.T) {
	s := testState()
	snapshot := s.Clone()

	require.NoError(t, apply(t, s, operation.KindUpdate, operation.Path{"widgets", "0", "title"}, "changed"))
	require.NoError(t, apply(t, s, operation.KindDelete, operation.Path{"title"}))

	assert.Equal(t, "Orders", snapshot["widgets"].([]any)[0].(map[string]any)["title"])
	assert.Equal(t, "Revenue overview", snapshot["title"])
}

func TestGet(t *testing.T) {
	s := testState()

	v, err := s.Get(operation.Path{"widgets", "0", "title"})
	require.NoError(t, err)
	assert.Equal(t, "Orders", v)

	_, err = s.Get(operation.Path{"widgets", "5"})
	assert.Error(t, err)
}
