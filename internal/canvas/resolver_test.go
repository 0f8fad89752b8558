package canvas_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/inkboard/internal/canvas"
	"github.com/gosuda/inkboard/internal/domain"
)

var (
	boardA = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	userX  = uuid.MustParse("11111111-0000-0000-0000-00000000000a")
	userY  = uuid.MustParse("11111111-0000-0000-0000-00000000000b")
	t0     = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func draft(t *testing.T, typ domain.ElementType) *domain.Element {
	t.Helper()
	e, err := domain.NewElement(boardA, userX, typ, json.RawMessage(`{"text":"hi"}`), domain.Point{X: 1, Y: 2}, nil, map[string]string{"color": "black"})
	require.NoError(t, err)
	return e
}

func pos(x, y float64) *domain.Point { return &domain.Point{X: x, Y: y} }

// element builds a committed element at version v whose fields were all
// written at v unless overridden.
func element(v int64, fieldVersions map[string]int64) *domain.Element {
	return &domain.Element{
		ID:            uuid.MustParse("eeeeeeee-0000-0000-0000-000000000001"),
		BoardID:       boardA,
		Type:          domain.ElementShape,
		Data:          json.RawMessage(`{}`),
		Position:      domain.Point{X: 0, Y: 0},
		Style:         map[string]string{"color": "black"},
		Version:       v,
		BaseVersion:   1,
		FieldVersions: fieldVersions,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestResolve_Create(t *testing.T) {
	t.Parallel()

	t.Run("new id starts at version 1", func(t *testing.T) {
		t.Parallel()

		d := draft(t, domain.ElementText)
		got, fields, err := canvas.Resolve(nil, domain.Mutation{Kind: domain.MutationCreate, Element: d, ActorID: userY}, t0)
		require.NoError(t, err)
		assert.Nil(t, fields)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, int64(1), got.BaseVersion)
		assert.Equal(t, userY, got.CreatorID)
		assert.Equal(t, t0, got.CreatedAt)
		assert.NotSame(t, d, got)
	})

	t.Run("live id is a duplicate", func(t *testing.T) {
		t.Parallel()

		cur := element(3, nil)
		d := cur.Clone()
		_, _, err := canvas.Resolve(cur, domain.Mutation{Kind: domain.MutationCreate, Element: d, ActorID: userX}, t0)
		assert.ErrorIs(t, err, domain.ErrDuplicateID)
	})

	t.Run("tombstoned id is a duplicate", func(t *testing.T) {
		t.Parallel()

		cur := element(3, nil)
		cur.Deleted = true
		_, _, err := canvas.Resolve(cur, domain.Mutation{Kind: domain.MutationCreate, Element: cur.Clone(), ActorID: userX}, t0)
		assert.ErrorIs(t, err, domain.ErrDuplicateID)
	})
}

// ---------------------------------------------------------------------------
// Update: version policy table
// ---------------------------------------------------------------------------

func TestResolve_Update(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		current       *domain.Element
		expected      int64
		patch         domain.ElementPatch
		wantErr       error
		wantVersion   int64
		wantConflicts []string
	}{
		{
			name:        "expected equals current",
			current:     element(1, nil),
			expected:    1,
			patch:       domain.ElementPatch{Position: pos(5, 5)},
			wantVersion: 2,
		},
		{
			name:        "stale but disjoint field merges",
			current:     element(2, map[string]int64{domain.FieldPosition: 2}),
			expected:    1,
			patch:       domain.ElementPatch{Style: map[string]string{"color": "red"}},
			wantVersion: 3,
		},
		{
			name:          "stale and overlapping field conflicts",
			current:       element(2, map[string]int64{domain.FieldPosition: 2}),
			expected:      1,
			patch:         domain.ElementPatch{Position: pos(9, 9)},
			wantErr:       domain.ErrConflict,
			wantConflicts: []string{domain.FieldPosition},
		},
		{
			name:          "stale with one overlapping field of many conflicts",
			current:       element(3, map[string]int64{domain.StyleField("color"): 3}),
			expected:      2,
			patch:         domain.ElementPatch{Position: pos(1, 1), Style: map[string]string{"color": "blue"}},
			wantErr:       domain.ErrConflict,
			wantConflicts: []string{domain.StyleField("color")},
		},
		{
			name:     "expected ahead of server conflicts",
			current:  element(2, nil),
			expected: 5,
			patch:    domain.ElementPatch{Position: pos(1, 1)},
			wantErr:  domain.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := domain.Mutation{
				Kind:            domain.MutationUpdate,
				ElementID:       tt.current.ID,
				Patch:           tt.patch,
				ExpectedVersion: tt.expected,
				ActorID:         userX,
			}
			got, fields, err := canvas.Resolve(tt.current, m, t0)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var ce *domain.ConflictError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, tt.current.Version, ce.Current.Version)
				assert.NotSame(t, tt.current, ce.Current)
				if tt.wantConflicts != nil {
					assert.Equal(t, tt.wantConflicts, ce.Fields)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, got.Version)
			assert.Equal(t, tt.patch.Fields(), fields)
			for _, f := range fields {
				assert.Equal(t, tt.wantVersion, got.FieldVersion(f), f)
			}
		})
	}
}

func TestResolve_UpdateDoesNotTouchCurrent(t *testing.T) {
	t.Parallel()

	cur := element(1, nil)
	m := domain.Mutation{
		Kind:            domain.MutationUpdate,
		ElementID:       cur.ID,
		Patch:           domain.ElementPatch{Style: map[string]string{"color": "red"}},
		ExpectedVersion: 1,
		ActorID:         userX,
	}
	_, _, err := canvas.Resolve(cur, m, t0)
	require.NoError(t, err)
	assert.Equal(t, "black", cur.Style["color"])
	assert.Equal(t, int64(1), cur.Version)
}

// ---------------------------------------------------------------------------
// Delete / tombstones
// ---------------------------------------------------------------------------

func TestResolve_Delete(t *testing.T) {
	t.Parallel()

	t.Run("wins against stale version", func(t *testing.T) {
		t.Parallel()

		cur := element(7, nil)
		got, _, err := canvas.Resolve(cur, domain.Mutation{Kind: domain.MutationDelete, ElementID: cur.ID, ExpectedVersion: 2, ActorID: userY}, t0)
		require.NoError(t, err)
		assert.True(t, got.Deleted)
		assert.Equal(t, int64(8), got.Version)
	})

	t.Run("unknown element", func(t *testing.T) {
		t.Parallel()

		_, _, err := canvas.Resolve(nil, domain.Mutation{Kind: domain.MutationDelete, ElementID: uuid.New(), ActorID: userY}, t0)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("update after delete is not found", func(t *testing.T) {
		t.Parallel()

		cur := element(4, nil)
		cur.Deleted = true
		m := domain.Mutation{Kind: domain.MutationUpdate, ElementID: cur.ID, ExpectedVersion: 4, Patch: domain.ElementPatch{Position: pos(1, 1)}, ActorID: userX}
		_, _, err := canvas.Resolve(cur, m, t0)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("delete after delete is not found", func(t *testing.T) {
		t.Parallel()

		cur := element(4, nil)
		cur.Deleted = true
		_, _, err := canvas.Resolve(cur, domain.Mutation{Kind: domain.MutationDelete, ElementID: cur.ID, ActorID: userX}, t0)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestResolve_Restore(t *testing.T) {
	t.Parallel()

	t.Run("revives tombstone with prior content", func(t *testing.T) {
		t.Parallel()

		prior := element(3, map[string]int64{domain.FieldPosition: 3})
		tomb := prior.Clone()
		tomb.Deleted = true
		tomb.Version = 4

		got, _, err := canvas.Resolve(tomb, domain.Mutation{Kind: domain.MutationRestore, Element: prior.Clone(), ActorID: userX}, t0)
		require.NoError(t, err)
		assert.False(t, got.Deleted)
		assert.Equal(t, int64(5), got.Version)
		assert.Equal(t, int64(5), got.BaseVersion)
		assert.Empty(t, got.FieldVersions)
		assert.True(t, prior.SameContent(got))
	})

	t.Run("live element conflicts", func(t *testing.T) {
		t.Parallel()

		cur := element(2, nil)
		_, _, err := canvas.Resolve(cur, domain.Mutation{Kind: domain.MutationRestore, Element: cur.Clone(), ActorID: userX}, t0)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}
