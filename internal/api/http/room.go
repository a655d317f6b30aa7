package http

import (
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/dto"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/state"

	"github.com/kataras/iris/v12"
)

func CreateRoom(appState *state.AppState) iris.Handler {
	return func(ctx iris.Context) {
		var req dto.CreateRoomRequest

		// 请求体可以为空
		if ctx.GetContentLength() > 0 {
			if err := ctx.ReadJSON(&req); err != nil {
				ctx.StatusCode(iris.StatusBadRequest)
				ctx.JSON(dto.ErrorResponse{Error: "invalid request body"})
				return
			}
		}

		room, err := appState.RoomSvc.CreateRoom(userIDFrom(ctx), req.MaxPlayers)
		if err != nil {
			writeError(ctx, err)
			return
		}

		ctx.StatusCode(iris.StatusCreated)
		ctx.JSON(room)
	}
}

func LookupRoom(appState *state.AppState) iris.Handler {
	return func(ctx iris.Context) {
		room, err := appState.RoomSvc.Lookup(ctx.Params().Get("code"))
		if err != nil {
			writeError(ctx, err)
			return
		}

		ctx.JSON(room)
	}
}

func JoinRoom(appState *state.AppState) iris.Handler {
	return func(ctx iris.Context) {
		room, player, err := appState.RoomSvc.JoinRoom(ctx.Params().Get("code"), userIDFrom(ctx))
		if err != nil {
			writeError(ctx, err)
			return
		}

		ctx.StatusCode(iris.StatusCreated)
		ctx.JSON(dto.JoinRoomResponse{
			Room:   room,
			Player: player,
		})
	}
}
