package canvas_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/inkboard/internal/canvas"
	"github.com/gosuda/inkboard/internal/domain"
)

func withColor(e *domain.Element, c string, v int64) *domain.Element {
	out := e.Clone()
	out.Apply(domain.ElementPatch{Style: map[string]string{"color": c}}, v, t0)
	return out
}

func tombstone(e *domain.Element, v int64) *domain.Element {
	out := e.Clone()
	out.Deleted = true
	out.Version = v
	return out
}

func TestTransition_Revert(t *testing.T) {
	t.Parallel()

	base := element(1, nil)
	red := withColor(base, "red", 2)
	colorOnly := []string{domain.StyleField("color")}
	moved := red.Clone()
	moved.Apply(domain.ElementPatch{Position: pos(5, 5)}, 3, t0)

	tests := []struct {
		name      string
		tr        canvas.Transition
		current   *domain.Element
		wantKind  domain.MutationKind
		wantStale bool
		wantCause error
	}{
		{
			name:     "undo update when target unchanged",
			tr:       canvas.Transition{From: base, To: red, Fields: colorOnly},
			current:  red,
			wantKind: domain.MutationUpdate,
		},
		{
			name:     "undo update after disjoint edit",
			tr:       canvas.Transition{From: base, To: red, Fields: colorOnly},
			current:  moved,
			wantKind: domain.MutationUpdate,
		},
		{
			name:      "undo update after overlapping edit",
			tr:        canvas.Transition{From: base, To: red, Fields: colorOnly},
			current:   withColor(red, "green", 3),
			wantStale: true,
			wantCause: domain.ErrConflict,
		},
		{
			name:      "undo update of deleted element",
			tr:        canvas.Transition{From: base, To: red, Fields: colorOnly},
			current:   tombstone(red, 3),
			wantStale: true,
			wantCause: domain.ErrNotFound,
		},
		{
			name:     "undo create",
			tr:       canvas.Transition{To: base},
			current:  red,
			wantKind: domain.MutationDelete,
		},
		{
			name:      "undo create of deleted element",
			tr:        canvas.Transition{To: base},
			current:   tombstone(base, 2),
			wantStale: true,
			wantCause: domain.ErrNotFound,
		},
		{
			name:     "undo delete",
			tr:       canvas.Transition{From: red},
			current:  tombstone(red, 3),
			wantKind: domain.MutationRestore,
		},
		{
			name:      "undo delete of unknown element",
			tr:        canvas.Transition{From: red},
			wantStale: true,
			wantCause: domain.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := tt.tr.Revert(tt.current, userX, "req", domain.OriginUndo)
			if tt.wantStale {
				require.ErrorIs(t, err, domain.ErrStaleUndoTarget)
				var se *domain.StaleUndoError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, base.ID, se.ElementID)
				assert.ErrorIs(t, se.Cause, tt.wantCause)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, m.Kind)
			assert.Equal(t, domain.OriginUndo, m.Origin)
			assert.Equal(t, "req", m.RequestID)
			require.NoError(t, m.Validate())
			if m.Kind != domain.MutationRestore {
				assert.Equal(t, tt.current.Version, m.ExpectedVersion)
			}
		})
	}
}

func TestHistory_Stacks(t *testing.T) {
	t.Parallel()

	mk := func() canvas.Transition {
		return canvas.Transition{To: &domain.Element{ID: uuid.New()}}
	}

	t.Run("record clears redo", func(t *testing.T) {
		t.Parallel()

		h := canvas.NewHistory(10)
		h.Record(mk())
		h.PushRedo(mk())
		h.Record(mk())

		undo, redo := h.Len()
		assert.Equal(t, 2, undo)
		assert.Equal(t, 0, redo)
	})

	t.Run("lifo", func(t *testing.T) {
		t.Parallel()

		h := canvas.NewHistory(10)
		a, b := mk(), mk()
		h.Record(a)
		h.Record(b)

		got, ok := h.PopUndo()
		require.True(t, ok)
		assert.Equal(t, b.ElementID(), got.ElementID())
		got, ok = h.PopUndo()
		require.True(t, ok)
		assert.Equal(t, a.ElementID(), got.ElementID())
		_, ok = h.PopUndo()
		assert.False(t, ok)
	})

	t.Run("depth drops oldest", func(t *testing.T) {
		t.Parallel()

		h := canvas.NewHistory(2)
		first := mk()
		h.Record(first)
		h.Record(mk())
		h.Record(mk())

		undo, _ := h.Len()
		assert.Equal(t, 2, undo)
		for {
			got, ok := h.PopUndo()
			if !ok {
				break
			}
			assert.NotEqual(t, first.ElementID(), got.ElementID())
		}
	})
}
