package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/board"
	"github.com/gosuda/inkboard/internal/canvas"
	"github.com/gosuda/inkboard/internal/domain"
)

// BoardService abstracts board management for handler testing.
// *board.Service satisfies this interface.
type BoardService interface {
	Create(ctx context.Context, ident domain.Identity, in board.CreateInput) (*domain.Board, error)
	Get(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, domain.Role, error)
	ListForUser(ctx context.Context, ident domain.Identity) ([]*domain.Board, error)
	Update(ctx context.Context, ident domain.Identity, boardID uuid.UUID, in board.UpdateInput) (*domain.Board, error)
	Delete(ctx context.Context, ident domain.Identity, boardID uuid.UUID) error
	JoinByInvite(ctx context.Context, ident domain.Identity, code string) (*domain.Board, domain.Role, error)
	RotateInvite(ctx context.Context, ident domain.Identity, boardID uuid.UUID) (*domain.Board, error)

	Collaborators(ctx context.Context, boardID uuid.UUID) ([]*domain.Collaborator, error)
	SetCollaborator(ctx context.Context, ident domain.Identity, boardID, userID uuid.UUID, displayName string, role domain.Role) (*domain.Collaborator, error)
	RemoveCollaborator(ctx context.Context, ident domain.Identity, boardID, userID uuid.UUID) error
}

// CanvasReader abstracts read access to board content for handler testing.
// *canvas.Engine satisfies this interface.
type CanvasReader interface {
	Snapshot(ctx context.Context, boardID uuid.UUID) (*canvas.Snapshot, error)
	History(ctx context.Context, boardID uuid.UUID, afterSeq int64, limit int) ([]*domain.BoardEvent, error)
}
