package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/board"
	"github.com/gosuda/inkboard/internal/canvas"
	"github.com/gosuda/inkboard/internal/domain"
	"github.com/gosuda/inkboard/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers: inject the caller's identity for DoCtx
// ---------------------------------------------------------------------------

func identCtx(ident domain.Identity) context.Context {
	return middleware.WithIdentity(context.Background(), ident)
}

func newIdent() domain.Identity {
	return domain.Identity{TenantID: uuid.New(), UserID: uuid.New(), DisplayName: "olive"}
}

// ---------------------------------------------------------------------------
// Mock BoardService
// ---------------------------------------------------------------------------

type mockBoardService struct {
	createFunc             func(ctx context.Context, ident domain.Identity, in board.CreateInput) (*domain.Board, error)
	getFunc                func(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, domain.Role, error)
	listForUserFunc        func(ctx context.Context, ident domain.Identity) ([]*domain.Board, error)
	updateFunc             func(ctx context.Context, ident domain.Identity, boardID uuid.UUID, in board.UpdateInput) (*domain.Board, error)
	deleteFunc             func(ctx context.Context, ident domain.Identity, boardID uuid.UUID) error
	joinByInviteFunc       func(ctx context.Context, ident domain.Identity, code string) (*domain.Board, domain.Role, error)
	rotateInviteFunc       func(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, error)
	collaboratorsFunc      func(ctx context.Context, boardID uuid.UUID) ([]*domain.Collaborator, error)
	setCollaboratorFunc    func(ctx context.Context, ident domain.Identity, boardID, userID uuid.UUID, displayName string, role domain.Role) (*domain.Collaborator, error)
	removeCollaboratorFunc func(ctx context.Context, ident domain.Identity, boardID, userID uuid.UUID) error
}

func (m *mockBoardService) Create(ctx context.Context, ident domain.Identity, in board.CreateInput) (*domain.Board, error) {
	return m.createFunc(ctx, ident, in)
}

func (m *mockBoardService) Get(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, domain.Role, error) {
	return m.getFunc(ctx, ident, boardID)
}

func (m *mockBoardService) ListForUser(ctx context.Context, ident domain.Identity) ([]*domain.Board, error) {
	return m.listForUserFunc(ctx, ident)
}

func (m *mockBoardService) Update(ctx context.Context, ident domain.Identity, boardID uuid.UUID, in board.UpdateInput) (*domain.Board, error) {
	return m.updateFunc(ctx, ident, boardID, in)
}

func (m *mockBoardService) Delete(ctx context.Context, ident domain.Identity, boardID uuid.UUID) error {
	return m.deleteFunc(ctx, ident, boardID)
}

func (m *mockBoardService) JoinByInvite(ctx context.Context, ident domain.Identity, code string) (*domain.Board, domain.Role, error) {
	return m.joinByInviteFunc(ctx, ident, code)
}

func (m *mockBoardService) RotateInvite(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, error) {
	return m.rotateInviteFunc(ctx, ident, boardID)
}

func (m *mockBoardService) Collaborators(ctx context.Context, boardID uuid.UUID) ([]*domain.Collaborator, error) {
	return m.collaboratorsFunc(ctx, boardID)
}

func (m *mockBoardService) SetCollaborator(ctx context.Context, ident domain.Identity, boardID, userID uuid.UUID, displayName string, role domain.Role) (*domain.Collaborator, error) {
	return m.setCollaboratorFunc(ctx, ident, boardID, userID, displayName, role)
}

func (m *mockBoardService) RemoveCollaborator(ctx context.Context, ident domain.Identity, boardID, userID uuid.UUID) error {
	return m.removeCollaboratorFunc(ctx, ident, boardID, userID)
}

// ---------------------------------------------------------------------------
// Mock CanvasReader
// ---------------------------------------------------------------------------

type mockCanvasReader struct {
	snapshotFunc func(ctx context.Context, boardID uuid.UUID) (*canvas.Snapshot, error)
	historyFunc  func(ctx context.Context, boardID uuid.UUID, afterSeq int64, limit int) ([]*domain.BoardEvent, error)
}

func (m *mockCanvasReader) Snapshot(ctx context.Context, boardID uuid.UUID) (*canvas.Snapshot, error) {
	return m.snapshotFunc(ctx, boardID)
}

func (m *mockCanvasReader) History(ctx context.Context, boardID uuid.UUID, afterSeq int64, limit int) ([]*domain.BoardEvent, error) {
	return m.historyFunc(ctx, boardID, afterSeq, limit)
}

// boardFor returns a board owned by ident.
func boardFor(ident domain.Identity) *domain.Board {
	return &domain.Board{
		ID:          uuid.New(),
		TenantID:    ident.TenantID,
		Name:        "retro",
		OwnerID:     ident.UserID,
		Visibility:  domain.VisibilityPrivate,
		InviteCode:  "abc123",
		Permissions: domain.DefaultPermissions(),
	}
}

// getAs makes getFunc return b with role.
func getAs(b *domain.Board, role domain.Role) func(context.Context, domain.Identity, uuid.UUID) (*domain.Board, domain.Role, error) {
	return func(_ context.Context, _ domain.Identity, id uuid.UUID) (*domain.Board, domain.Role, error) {
		if id != b.ID {
			return nil, "", domain.ErrNotFound
		}
		return b, role, nil
	}
}
