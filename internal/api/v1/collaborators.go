package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/domain"
)

type ListCollaboratorsOutput struct {
	Body []*domain.Collaborator
}

type SetCollaboratorInput struct {
	ID     uuid.UUID `path:"id" doc:"Board ID"`
	UserID uuid.UUID `path:"userID" doc:"User ID"`
	Body   struct {
		DisplayName string      `json:"display_name,omitempty" maxLength:"255" doc:"Name shown to other members"`
		Role        domain.Role `json:"role" enum:"editor,viewer" doc:"Role to grant"`
	}
}

type CollaboratorOutput struct {
	Body *domain.Collaborator
}

type RemoveCollaboratorInput struct {
	ID     uuid.UUID `path:"id" doc:"Board ID"`
	UserID uuid.UUID `path:"userID" doc:"User ID"`
}

func RegisterCollaboratorRoutes(api huma.API, boards BoardService) {
	huma.Register(api, huma.Operation{
		OperationID: "list-collaborators",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/collaborators",
		Summary:     "List board members and whether they are online",
		Tags:        []string{"Collaborators"},
	}, func(ctx context.Context, input *BoardIDInput) (*ListCollaboratorsOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		if _, _, err := boards.Get(ctx, ident, input.ID); err != nil {
			return nil, boardError("failed to get board", err)
		}
		cs, err := boards.Collaborators(ctx, input.ID)
		if err != nil {
			return nil, boardError("failed to list collaborators", err)
		}
		if cs == nil {
			cs = []*domain.Collaborator{}
		}

		return &ListCollaboratorsOutput{Body: cs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-collaborator",
		Method:      http.MethodPut,
		Path:        "/boards/{id}/collaborators/{userID}",
		Summary:     "Add a member or change their role",
		Tags:        []string{"Collaborators"},
	}, func(ctx context.Context, input *SetCollaboratorInput) (*CollaboratorOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		c, err := boards.SetCollaborator(ctx, ident, input.ID, input.UserID, input.Body.DisplayName, input.Body.Role)
		if err != nil {
			return nil, boardError("failed to set collaborator", err)
		}

		return &CollaboratorOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-collaborator",
		Method:        http.MethodDelete,
		Path:          "/boards/{id}/collaborators/{userID}",
		Summary:       "Remove a member",
		Tags:          []string{"Collaborators"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *RemoveCollaboratorInput) (*struct{}, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		if err := boards.RemoveCollaborator(ctx, ident, input.ID, input.UserID); err != nil {
			return nil, boardError("failed to remove collaborator", err)
		}

		return nil, nil
	})
}
