package http

import (
	"fmt"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/api/http/websocket"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/state"

	"github.com/kataras/iris/v12"
)

func NewApp(appState *state.AppState, hub *websocket.Hub) *iris.Application {
	app := iris.Default()

	api := app.Party("/api/v1")

	api.Post("/auth/guest", GuestLogin(appState))
	api.Post("/auth/refresh", Refresh(appState))

	api.Post("/rooms", RequireAuth(appState), CreateRoom(appState))
	api.Get("/rooms/{code}/lookup", ValidateCode, LookupRoom(appState))
	api.Post("/rooms/{code}/join", ValidateCode, RequireAuth(appState), JoinRoom(appState))

	api.Get("/ws", websocket.JoinGame(appState, hub))

	return app
}

func RunServer(appState *state.AppState, hub *websocket.Hub) error {
	app := NewApp(appState, hub)

	addr := fmt.Sprintf(
		"%s:%d",
		appState.Cfg.Host,
		appState.Cfg.Port,
	)

	return app.Listen(addr)
}
