package http

import (
	"errors"
	"strings"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/dto"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/state"

	"github.com/kataras/iris/v12"
)

const (
	CTX_USER_ID  = "user_id"
	CTX_USERNAME = "username"
)

// RequireAuth 校验 Authorization: Bearer <token> 并把用户身份放进上下文
func RequireAuth(appState *state.AppState) iris.Handler {
	return func(ctx iris.Context) {
		header := ctx.GetHeader("Authorization")

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			ctx.StatusCode(iris.StatusUnauthorized)
			ctx.JSON(dto.ErrorResponse{Error: "missing authorization header"})
			return
		}

		claims, err := appState.Auth.VerifyAccess(token)
		if err != nil {
			ctx.StatusCode(iris.StatusUnauthorized)
			ctx.JSON(dto.ErrorResponse{Error: "invalid or expired token"})
			return
		}

		ctx.Values().Set(CTX_USER_ID, claims.ID)
		ctx.Values().Set(CTX_USERNAME, claims.Username)

		ctx.Next()
	}
}

// ValidateCode 拒绝格式不正确的房间号
func ValidateCode(ctx iris.Context) {
	if !service.ValidRoomCode(ctx.Params().Get("code")) {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(dto.ErrorResponse{Error: "invalid room code format"})
		return
	}

	ctx.Next()
}

func userIDFrom(ctx iris.Context) string {
	return ctx.Values().GetString(CTX_USER_ID)
}

// writeError 按错误分类转换为 HTTP 状态码
func writeError(ctx iris.Context, err error) {
	status := iris.StatusInternalServerError

	switch {
	case errors.Is(err, service.ErrRoomFull), errors.Is(err, service.ErrAlreadyJoined):
		status = iris.StatusConflict
	default:
		switch game.KindOf(err) {
		case game.KindNotFound:
			status = iris.StatusNotFound
		case game.KindUnauthorized:
			status = iris.StatusForbidden
		case game.KindInvalidPhase, game.KindPreconditionFailed, game.KindExhausted:
			status = iris.StatusBadRequest
		}
	}

	ctx.StatusCode(status)
	ctx.JSON(dto.ErrorResponse{
		Error: err.Error(),
		Kind:  string(game.KindOf(err)),
	})
}
