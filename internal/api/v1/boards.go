package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/board"
	"github.com/gosuda/inkboard/internal/domain"
	"github.com/gosuda/inkboard/internal/server/middleware"
)

type CreateBoardInput struct {
	Body struct {
		Name        string              `json:"name" minLength:"1" maxLength:"255" doc:"Board name"`
		Visibility  domain.Visibility   `json:"visibility,omitempty" enum:"public,private" doc:"Defaults to private"`
		Permissions *domain.Permissions `json:"permissions,omitempty" doc:"What editors may do; defaults to everything"`
	}
}

type BoardOutput struct {
	Body *domain.Board
}

type ListBoardsInput struct{}

type ListBoardsOutput struct {
	Body []*domain.Board
}

type BoardIDInput struct {
	ID uuid.UUID `path:"id" doc:"Board ID"`
}

type BoardWithRole struct {
	Board *domain.Board `json:"board"`
	Role  domain.Role   `json:"role"`
}

type BoardWithRoleOutput struct {
	Body *BoardWithRole
}

type UpdateBoardInput struct {
	ID   uuid.UUID `path:"id" doc:"Board ID"`
	Body struct {
		Name        *string             `json:"name,omitempty" minLength:"1" maxLength:"255" doc:"Board name"`
		Visibility  *domain.Visibility  `json:"visibility,omitempty" enum:"public,private" doc:"Board visibility"`
		Permissions *domain.Permissions `json:"permissions,omitempty" doc:"What editors may do"`
	}
}

type JoinBoardInput struct {
	Body struct {
		InviteCode string `json:"invite_code" minLength:"1" maxLength:"64" doc:"Invite code shared by a board member"`
	}
}

// identity pulls the caller from the request context.
func identity(ctx context.Context) (domain.Identity, error) {
	ident, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		return domain.Identity{}, huma.Error403Forbidden("missing tenant context")
	}
	return ident, nil
}

// boardError maps service errors onto HTTP errors.
func boardError(msg string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("board not found")
	case errors.Is(err, domain.ErrInvalidInviteKey):
		return huma.Error403Forbidden("invalid invite code")
	case errors.Is(err, domain.ErrForbidden):
		return huma.Error403Forbidden("permission denied")
	case errors.Is(err, domain.ErrInvalidMutation):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, domain.ErrConflict):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}

func RegisterBoardRoutes(api huma.API, boards BoardService) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-board",
		Method:        http.MethodPost,
		Path:          "/boards",
		Summary:       "Create a board owned by the caller",
		Tags:          []string{"Boards"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateBoardInput) (*BoardOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		b, err := boards.Create(ctx, ident, board.CreateInput{
			Name:        input.Body.Name,
			Visibility:  input.Body.Visibility,
			Permissions: input.Body.Permissions,
		})
		if err != nil {
			return nil, boardError("failed to create board", err)
		}

		return &BoardOutput{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-boards",
		Method:      http.MethodGet,
		Path:        "/boards",
		Summary:     "List boards the caller owns or has joined",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, _ *ListBoardsInput) (*ListBoardsOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		list, err := boards.ListForUser(ctx, ident)
		if err != nil {
			return nil, boardError("failed to list boards", err)
		}
		if list == nil {
			list = []*domain.Board{}
		}

		return &ListBoardsOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/boards/{id}",
		Summary:     "Get a board and the caller's role on it",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *BoardIDInput) (*BoardWithRoleOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		b, role, err := boards.Get(ctx, ident, input.ID)
		if err != nil {
			return nil, boardError("failed to get board", err)
		}

		return &BoardWithRoleOutput{Body: &BoardWithRole{Board: b, Role: role}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-board",
		Method:      http.MethodPatch,
		Path:        "/boards/{id}",
		Summary:     "Change a board's name, visibility or editor permissions",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *UpdateBoardInput) (*BoardOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		b, err := boards.Update(ctx, ident, input.ID, board.UpdateInput{
			Name:        input.Body.Name,
			Visibility:  input.Body.Visibility,
			Permissions: input.Body.Permissions,
		})
		if err != nil {
			return nil, boardError("failed to update board", err)
		}

		return &BoardOutput{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-board",
		Method:        http.MethodDelete,
		Path:          "/boards/{id}",
		Summary:       "Delete a board with its elements and history",
		Description:   "Owner only. Connected sessions receive board-deleted and are detached.",
		Tags:          []string{"Boards"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *BoardIDInput) (*struct{}, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		if err := boards.Delete(ctx, ident, input.ID); err != nil {
			return nil, boardError("failed to delete board", err)
		}

		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "join-board",
		Method:      http.MethodPost,
		Path:        "/boards/join",
		Summary:     "Join a board with an invite code",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *JoinBoardInput) (*BoardWithRoleOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		b, role, err := boards.JoinByInvite(ctx, ident, input.Body.InviteCode)
		if err != nil {
			return nil, boardError("failed to join board", err)
		}

		return &BoardWithRoleOutput{Body: &BoardWithRole{Board: board.Redact(b, role), Role: role}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rotate-invite",
		Method:      http.MethodPost,
		Path:        "/boards/{id}/invite",
		Summary:     "Replace the board's invite code",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *BoardIDInput) (*BoardOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		b, err := boards.RotateInvite(ctx, ident, input.ID)
		if err != nil {
			return nil, boardError("failed to rotate invite code", err)
		}

		return &BoardOutput{Body: b}, nil
	})
}
