package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/canvas"
	"github.com/gosuda/inkboard/internal/domain"
)

type SnapshotOutput struct {
	Body *canvas.Snapshot
}

type HistoryInput struct {
	ID    uuid.UUID `path:"id" doc:"Board ID"`
	After int64     `query:"after" minimum:"0" doc:"Return events with a greater sequence"`
	Limit int       `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Maximum events to return"`
}

type HistoryOutput struct {
	Body []*domain.BoardEvent
}

type BoardExport struct {
	Board      *domain.Board     `json:"board"`
	Seq        int64             `json:"seq"`
	Elements   []*domain.Element `json:"elements"`
	ExportedAt time.Time         `json:"exported_at"`
}

type ExportOutput struct {
	ContentDisposition string `header:"Content-Disposition"`
	Body               *BoardExport
}

func RegisterCanvasRoutes(api huma.API, boards BoardService, content CanvasReader) {
	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/snapshot",
		Summary:     "Get every live element on a board",
		Tags:        []string{"Canvas"},
	}, func(ctx context.Context, input *BoardIDInput) (*SnapshotOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		if _, _, err := boards.Get(ctx, ident, input.ID); err != nil {
			return nil, boardError("failed to get board", err)
		}
		snap, err := content.Snapshot(ctx, input.ID)
		if err != nil {
			return nil, boardError("failed to load board", err)
		}

		return &SnapshotOutput{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/history",
		Summary:     "Page through a board's committed events",
		Tags:        []string{"Canvas"},
	}, func(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		if _, _, err := boards.Get(ctx, ident, input.ID); err != nil {
			return nil, boardError("failed to get board", err)
		}
		events, err := content.History(ctx, input.ID, input.After, input.Limit)
		if err != nil {
			return nil, boardError("failed to list history", err)
		}
		if events == nil {
			events = []*domain.BoardEvent{}
		}

		return &HistoryOutput{Body: events}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-board",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/export",
		Summary:     "Download a board as JSON",
		Tags:        []string{"Canvas"},
	}, func(ctx context.Context, input *BoardIDInput) (*ExportOutput, error) {
		ident, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		b, role, err := boards.Get(ctx, ident, input.ID)
		if err != nil {
			return nil, boardError("failed to get board", err)
		}
		if !role.CanExport(b.Permissions) {
			return nil, huma.Error403Forbidden("permission denied")
		}
		snap, err := content.Snapshot(ctx, input.ID)
		if err != nil {
			return nil, boardError("failed to load board", err)
		}

		return &ExportOutput{
			ContentDisposition: `attachment; filename="board-` + b.ID.String() + `.json"`,
			Body: &BoardExport{
				Board:      b,
				Seq:        snap.Seq,
				Elements:   snap.Elements,
				ExportedAt: time.Now().UTC(),
			},
		}, nil
	})
}
