package board_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/inkboard/internal/board"
	"github.com/gosuda/inkboard/internal/domain"
	"github.com/gosuda/inkboard/internal/store/memory"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRooms struct {
	closed []uuid.UUID
}

func (f *fakeRooms) CloseBoard(_ context.Context, boardID uuid.UUID) error {
	f.closed = append(f.closed, boardID)
	return nil
}

type fakeActivity map[uuid.UUID]bool

func (f fakeActivity) ActiveUsers(uuid.UUID) map[uuid.UUID]bool { return f }

var tenant = uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

func ident(name string) domain.Identity {
	return domain.Identity{TenantID: tenant, UserID: uuid.New(), DisplayName: name}
}

func newService(t *testing.T) (*board.Service, *fakeRooms, fakeActivity) {
	t.Helper()
	rooms := &fakeRooms{}
	activity := fakeActivity{}
	return board.NewService(memory.New().Boards(), rooms, activity), rooms, activity
}

func mustCreate(t *testing.T, svc *board.Service, owner domain.Identity, vis domain.Visibility) *domain.Board {
	t.Helper()
	b, err := svc.Create(context.Background(), owner, board.CreateInput{Name: "retro", Visibility: vis})
	require.NoError(t, err)
	return b
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestService_Create(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	owner := ident("olive")

	b := mustCreate(t, svc, owner, "")
	assert.Equal(t, domain.VisibilityPrivate, b.Visibility)
	assert.Len(t, b.InviteCode, 12)
	assert.Equal(t, domain.DefaultPermissions(), b.Permissions)

	cs, err := svc.Collaborators(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, domain.RoleOwner, cs[0].Role)

	_, err = svc.Create(context.Background(), owner, board.CreateInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidMutation)
}

func TestService_Authorize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newService(t)
	owner := ident("olive")
	private := mustCreate(t, svc, owner, domain.VisibilityPrivate)
	public := mustCreate(t, svc, owner, domain.VisibilityPublic)

	tests := []struct {
		name     string
		boardID  uuid.UUID
		who      domain.Identity
		invite   string
		wantRole domain.Role
		wantErr  error
	}{
		{name: "owner", boardID: private.ID, who: owner, wantRole: domain.RoleOwner},
		{name: "stranger on private board", boardID: private.ID, who: ident("sam"), wantErr: domain.ErrForbidden},
		{name: "stranger on public board", boardID: public.ID, who: ident("sam"), wantRole: domain.RoleViewer},
		{name: "valid invite", boardID: private.ID, who: ident("ivy"), invite: private.InviteCode, wantRole: domain.RoleEditor},
		{name: "wrong invite", boardID: private.ID, who: ident("mal"), invite: "nope", wantErr: domain.ErrInvalidInviteKey},
		{name: "unknown board", boardID: uuid.New(), who: owner, wantErr: domain.ErrNotFound},
		{name: "other tenant", boardID: private.ID, who: domain.Identity{TenantID: uuid.New(), UserID: owner.UserID}, wantErr: domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, role, err := svc.Authorize(ctx, tt.who, tt.boardID, tt.invite)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, role)
		})
	}
}

func TestService_InviteMakesMembership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newService(t)
	owner := ident("olive")
	b := mustCreate(t, svc, owner, domain.VisibilityPrivate)
	guest := ident("ivy")

	_, role, err := svc.JoinByInvite(ctx, guest, b.InviteCode)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, role)

	// Membership sticks without the code.
	_, role, err = svc.Authorize(ctx, guest, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, role)

	boards, err := svc.ListForUser(ctx, guest)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Empty(t, boards[0].InviteCode)

	_, _, err = svc.JoinByInvite(ctx, ident("x"), "missing")
	assert.ErrorIs(t, err, domain.ErrInvalidInviteKey)
}

func TestService_RotateInvite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newService(t)
	owner := ident("olive")
	b := mustCreate(t, svc, owner, domain.VisibilityPrivate)

	rotated, err := svc.RotateInvite(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.NotEqual(t, b.InviteCode, rotated.InviteCode)

	_, _, err = svc.Authorize(ctx, ident("late"), b.ID, b.InviteCode)
	assert.ErrorIs(t, err, domain.ErrInvalidInviteKey)

	viewer := ident("vic")
	_, err = svc.SetCollaborator(ctx, owner, b.ID, viewer.UserID, "vic", domain.RoleViewer)
	require.NoError(t, err)
	_, err = svc.RotateInvite(ctx, viewer, b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestService_Collaborators(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, activity := newService(t)
	owner := ident("olive")
	b := mustCreate(t, svc, owner, domain.VisibilityPrivate)
	ed := ident("ed")

	_, err := svc.SetCollaborator(ctx, owner, b.ID, ed.UserID, "ed", domain.RoleEditor)
	require.NoError(t, err)

	_, err = svc.SetCollaborator(ctx, owner, b.ID, uuid.New(), "x", domain.RoleOwner)
	assert.ErrorIs(t, err, domain.ErrInvalidMutation)
	_, err = svc.SetCollaborator(ctx, ed, b.ID, owner.UserID, "olive", domain.RoleViewer)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	activity[ed.UserID] = true
	cs, err := svc.Collaborators(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	for _, c := range cs {
		assert.Equal(t, c.UserID == ed.UserID, c.Active, c.DisplayName)
	}

	// Members may leave; only the owner removes others.
	other := ident("oz")
	_, err = svc.SetCollaborator(ctx, owner, b.ID, other.UserID, "oz", domain.RoleViewer)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RemoveCollaborator(ctx, ed, b.ID, other.UserID), domain.ErrForbidden)
	require.NoError(t, svc.RemoveCollaborator(ctx, ed, b.ID, ed.UserID))
	require.NoError(t, svc.RemoveCollaborator(ctx, owner, b.ID, other.UserID))
	assert.ErrorIs(t, svc.RemoveCollaborator(ctx, owner, b.ID, owner.UserID), domain.ErrForbidden)
}

func TestService_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, rooms, _ := newService(t)
	owner := ident("olive")
	b := mustCreate(t, svc, owner, domain.VisibilityPublic)

	assert.ErrorIs(t, svc.Delete(ctx, ident("sam"), b.ID), domain.ErrForbidden)
	assert.Empty(t, rooms.closed)

	require.NoError(t, svc.Delete(ctx, owner, b.ID))
	assert.Equal(t, []uuid.UUID{b.ID}, rooms.closed)

	_, _, err := svc.Get(ctx, owner, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newService(t)
	owner := ident("olive")
	b := mustCreate(t, svc, owner, domain.VisibilityPrivate)

	name := "planning"
	vis := domain.VisibilityPublic
	updated, err := svc.Update(ctx, owner, b.ID, board.UpdateInput{Name: &name, Visibility: &vis})
	require.NoError(t, err)
	assert.Equal(t, "planning", updated.Name)
	assert.Equal(t, domain.VisibilityPublic, updated.Visibility)

	_, role, err := svc.Authorize(ctx, ident("sam"), b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, role)

	_, err = svc.Update(ctx, ident("sam"), b.ID, board.UpdateInput{Name: &name})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
