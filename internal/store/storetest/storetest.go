// Package storetest holds the behaviour every persistence driver must share.
// Driver packages call these from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/inkboard/internal/domain"
)

// Repos opens a fresh, empty pair of repositories sharing one database.
type Repos func(t *testing.T) (domain.BoardRepository, domain.CanvasRepository)

func newBoard(t *testing.T, tenantID, ownerID uuid.UUID, name, code string, at time.Time) (*domain.Board, *domain.Collaborator) {
	t.Helper()
	b, err := domain.NewBoard(tenantID, ownerID, name, domain.VisibilityPrivate, domain.DefaultPermissions(), code)
	require.NoError(t, err)
	b.CreatedAt, b.UpdatedAt = at, at
	owner := &domain.Collaborator{BoardID: b.ID, UserID: ownerID, DisplayName: "owner", Role: domain.RoleOwner, CreatedAt: at}
	return b, owner
}

// ----------------------------------------------------------------------------
// Boards
// ----------------------------------------------------------------------------

func BoardRepository(t *testing.T, open Repos) {
	t.Run("CreateAndGet", func(t *testing.T) {
		boards, _ := open(t)
		ctx := context.Background()
		tenant, owner := uuid.New(), uuid.New()
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		b, oc := newBoard(t, tenant, owner, "Sketches", "code-a", at)
		b.Permissions.Delete = false
		require.NoError(t, boards.Create(ctx, b, oc))

		got, err := boards.GetByID(ctx, tenant, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "Sketches", got.Name)
		assert.Equal(t, owner, got.OwnerID)
		assert.Equal(t, domain.VisibilityPrivate, got.Visibility)
		assert.False(t, got.Permissions.Delete)
		assert.True(t, got.Permissions.Edit)
		assert.True(t, got.CreatedAt.Equal(at))

		byCode, err := boards.GetByInviteCode(ctx, tenant, "code-a")
		require.NoError(t, err)
		assert.Equal(t, b.ID, byCode.ID)

		_, err = boards.GetByID(ctx, uuid.New(), b.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = boards.GetByInviteCode(ctx, tenant, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		c, err := boards.GetCollaborator(ctx, b.ID, owner)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleOwner, c.Role)
	})

	t.Run("InviteCodeUniquePerTenant", func(t *testing.T) {
		boards, _ := open(t)
		ctx := context.Background()
		tenant := uuid.New()
		at := time.Now().UTC()

		a, ao := newBoard(t, tenant, uuid.New(), "A", "same", at)
		require.NoError(t, boards.Create(ctx, a, ao))

		b, bo := newBoard(t, tenant, uuid.New(), "B", "same", at)
		assert.ErrorIs(t, boards.Create(ctx, b, bo), domain.ErrConflict)

		other, oo := newBoard(t, uuid.New(), uuid.New(), "C", "same", at)
		assert.NoError(t, boards.Create(ctx, other, oo))
	})

	t.Run("UpdateAndList", func(t *testing.T) {
		boards, _ := open(t)
		ctx := context.Background()
		tenant, user := uuid.New(), uuid.New()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		older, oo := newBoard(t, tenant, user, "older", "c1", base)
		require.NoError(t, boards.Create(ctx, older, oo))
		newer, no := newBoard(t, tenant, user, "newer", "c2", base.Add(time.Hour))
		require.NoError(t, boards.Create(ctx, newer, no))
		foreign, fo := newBoard(t, tenant, uuid.New(), "foreign", "c3", base)
		require.NoError(t, boards.Create(ctx, foreign, fo))

		list, err := boards.ListForUser(ctx, tenant, user)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)

		older.Name = "renamed"
		older.Visibility = domain.VisibilityPublic
		older.InviteCode = "c9"
		older.UpdatedAt = base.Add(2 * time.Hour)
		require.NoError(t, boards.Update(ctx, older))

		got, err := boards.GetByID(ctx, tenant, older.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, domain.VisibilityPublic, got.Visibility)
		assert.Equal(t, "c9", got.InviteCode)

		missing, _ := newBoard(t, tenant, user, "missing", "c4", base)
		assert.ErrorIs(t, boards.Update(ctx, missing), domain.ErrNotFound)
	})

	t.Run("Collaborators", func(t *testing.T) {
		boards, _ := open(t)
		ctx := context.Background()
		tenant, owner, guest := uuid.New(), uuid.New(), uuid.New()
		at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

		b, oc := newBoard(t, tenant, owner, "team", "code", at)
		require.NoError(t, boards.Create(ctx, b, oc))

		joined := at.Add(time.Minute)
		require.NoError(t, boards.UpsertCollaborator(ctx, &domain.Collaborator{
			BoardID: b.ID, UserID: guest, DisplayName: "guest", Role: domain.RoleViewer, CreatedAt: joined,
		}))
		require.NoError(t, boards.UpsertCollaborator(ctx, &domain.Collaborator{
			BoardID: b.ID, UserID: guest, DisplayName: "Guest", Role: domain.RoleEditor, CreatedAt: at.Add(time.Hour),
		}))

		list, err := boards.ListCollaborators(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, owner, list[0].UserID)
		assert.Equal(t, guest, list[1].UserID)
		assert.Equal(t, "Guest", list[1].DisplayName)
		assert.Equal(t, domain.RoleEditor, list[1].Role)
		assert.True(t, list[1].CreatedAt.Equal(joined), "upsert keeps the original join time")

		err = boards.UpsertCollaborator(ctx, &domain.Collaborator{BoardID: uuid.New(), UserID: guest, Role: domain.RoleViewer, CreatedAt: at})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, boards.RemoveCollaborator(ctx, b.ID, guest))
		assert.ErrorIs(t, boards.RemoveCollaborator(ctx, b.ID, guest), domain.ErrNotFound)
		_, err = boards.GetCollaborator(ctx, b.ID, guest)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		boards, canvas := open(t)
		ctx := context.Background()
		tenant, owner := uuid.New(), uuid.New()
		at := time.Now().UTC()

		b, oc := newBoard(t, tenant, owner, "doomed", "code", at)
		require.NoError(t, boards.Create(ctx, b, oc))
		e, ev := committed(t, b.ID, owner, 1, at)
		require.NoError(t, canvas.Commit(ctx, e, ev))

		require.NoError(t, boards.Delete(ctx, tenant, b.ID))
		assert.ErrorIs(t, boards.Delete(ctx, tenant, b.ID), domain.ErrNotFound)

		_, err := boards.GetByID(ctx, tenant, b.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		collabs, err := boards.ListCollaborators(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, collabs)
		elements, err := canvas.LoadElements(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, elements)
		seq, err := canvas.LastSeq(ctx, b.ID)
		require.NoError(t, err)
		assert.Zero(t, seq)
	})
}

// ----------------------------------------------------------------------------
// Canvas
// ----------------------------------------------------------------------------

func committed(t *testing.T, boardID, actor uuid.UUID, seq int64, at time.Time) (*domain.Element, *domain.BoardEvent) {
	t.Helper()
	e, err := domain.NewElement(boardID, actor, domain.ElementShape, json.RawMessage(`{"kind":"rect"}`),
		domain.Point{X: 1, Y: 2}, &domain.Size{Width: 30, Height: 40}, map[string]string{"stroke": "#000"})
	require.NoError(t, err)
	e.Version, e.BaseVersion = 1, 1
	e.CreatedAt, e.UpdatedAt = at, at
	return e, &domain.BoardEvent{
		ID:             uuid.New(),
		BoardID:        boardID,
		Seq:            seq,
		Type:           domain.EventElementCreate,
		ElementID:      e.ID,
		ElementVersion: 1,
		Element:        e.Clone(),
		ActorID:        actor,
		Origin:         domain.OriginClient,
		RequestID:      "req",
		CreatedAt:      at,
	}
}

func CanvasRepository(t *testing.T, open Repos) {
	setup := func(t *testing.T) (domain.CanvasRepository, uuid.UUID, uuid.UUID) {
		boards, canvas := open(t)
		tenant, owner := uuid.New(), uuid.New()
		b, oc := newBoard(t, tenant, owner, "canvas", "code", time.Now().UTC())
		require.NoError(t, boards.Create(context.Background(), b, oc))
		return canvas, b.ID, owner
	}

	t.Run("CommitAndLoad", func(t *testing.T) {
		canvas, boardID, actor := setup(t)
		ctx := context.Background()
		at := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

		e, ev := committed(t, boardID, actor, 1, at)
		require.NoError(t, canvas.Commit(ctx, e, ev))

		elements, err := canvas.LoadElements(ctx, boardID)
		require.NoError(t, err)
		require.Len(t, elements, 1)
		got := elements[0]
		assert.True(t, got.SameContent(e))
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, int64(1), got.BaseVersion)
		assert.Equal(t, actor, got.CreatorID)
		assert.True(t, got.CreatedAt.Equal(at))

		events, err := canvas.ListEvents(ctx, boardID, 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, ev.ID, events[0].ID)
		assert.Equal(t, domain.EventElementCreate, events[0].Type)
		assert.Equal(t, domain.OriginClient, events[0].Origin)
		assert.Equal(t, "req", events[0].RequestID)
		require.NotNil(t, events[0].Element)
		assert.True(t, events[0].Element.SameContent(e))
	})

	t.Run("CommitIsIdempotentAndVersionGuarded", func(t *testing.T) {
		canvas, boardID, actor := setup(t)
		ctx := context.Background()
		at := time.Now().UTC()

		e, ev := committed(t, boardID, actor, 1, at)
		require.NoError(t, canvas.Commit(ctx, e, ev))

		moved := e.Clone()
		pos := domain.Point{X: 50, Y: 60}
		moved.Apply(domain.ElementPatch{Position: &pos}, 2, at)
		moved.Version = 2
		require.NoError(t, canvas.Commit(ctx, moved, &domain.BoardEvent{
			ID: uuid.New(), BoardID: boardID, Seq: 2, Type: domain.EventElementUpdate, ElementID: e.ID,
			ElementVersion: 2, Fields: []string{domain.FieldPosition}, Element: moved.Clone(),
			ActorID: actor, Origin: domain.OriginClient, CreatedAt: at,
		}))

		// Replaying seq 1 must not roll the element back.
		require.NoError(t, canvas.Commit(ctx, e, ev))

		elements, err := canvas.LoadElements(ctx, boardID)
		require.NoError(t, err)
		require.Len(t, elements, 1)
		assert.Equal(t, int64(2), elements[0].Version)
		assert.Equal(t, pos, elements[0].Position)
		assert.Equal(t, int64(2), elements[0].FieldVersion(domain.FieldPosition))

		seq, err := canvas.LastSeq(ctx, boardID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), seq)

		events, err := canvas.ListEvents(ctx, boardID, 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, []string{domain.FieldPosition}, events[1].Fields)
	})

	t.Run("ListEventsPages", func(t *testing.T) {
		canvas, boardID, actor := setup(t)
		ctx := context.Background()
		at := time.Now().UTC()

		for seq := int64(1); seq <= 5; seq++ {
			e, ev := committed(t, boardID, actor, seq, at)
			require.NoError(t, canvas.Commit(ctx, e, ev))
		}

		page, err := canvas.ListEvents(ctx, boardID, 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(2), page[0].Seq)
		assert.Equal(t, int64(3), page[1].Seq)

		rest, err := canvas.ListEvents(ctx, boardID, 3, 0)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, int64(5), rest[1].Seq)

		none, err := canvas.ListEvents(ctx, boardID, 5, 10)
		require.NoError(t, err)
		assert.Empty(t, none)

		empty, err := canvas.LastSeq(ctx, uuid.New())
		require.NoError(t, err)
		assert.Zero(t, empty)
	})

	t.Run("TombstonesPersist", func(t *testing.T) {
		canvas, boardID, actor := setup(t)
		ctx := context.Background()
		at := time.Now().UTC()

		e, ev := committed(t, boardID, actor, 1, at)
		require.NoError(t, canvas.Commit(ctx, e, ev))

		gone := e.Clone()
		gone.Deleted, gone.Version = true, 2
		require.NoError(t, canvas.Commit(ctx, gone, &domain.BoardEvent{
			ID: uuid.New(), BoardID: boardID, Seq: 2, Type: domain.EventElementDelete, ElementID: e.ID,
			ElementVersion: 2, Element: gone.Clone(), ActorID: actor, Origin: domain.OriginClient, CreatedAt: at,
		}))

		elements, err := canvas.LoadElements(ctx, boardID)
		require.NoError(t, err)
		require.Len(t, elements, 1)
		assert.True(t, elements[0].Deleted)
		assert.Equal(t, int64(2), elements[0].Version)
	})
}
