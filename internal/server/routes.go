package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/inkboard/internal/api/v1"
	"github.com/gosuda/inkboard/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterBoardRoutes(api, deps.Boards)
	v1.RegisterCollaboratorRoutes(api, deps.Boards)
	v1.RegisterCanvasRoutes(api, deps.Boards, deps.Canvas)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/board", hub.ServeBoard)
}
