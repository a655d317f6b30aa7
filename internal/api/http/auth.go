package http

import (
	"strings"
	"unicode/utf8"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/dto"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/state"

	"github.com/kataras/iris/v12"
	"go.uber.org/zap"
)

const MAX_USERNAME_LENGTH = 32

// GuestLogin 为访客生成用户 ID 并签发令牌
func GuestLogin(appState *state.AppState) iris.Handler {
	return func(ctx iris.Context) {
		var req dto.GuestLoginRequest

		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StatusCode(iris.StatusBadRequest)
			ctx.JSON(dto.ErrorResponse{Error: "invalid request body"})
			return
		}

		username := strings.TrimSpace(req.Username)
		if username == "" || utf8.RuneCountInString(username) > MAX_USERNAME_LENGTH {
			ctx.StatusCode(iris.StatusBadRequest)
			ctx.JSON(dto.ErrorResponse{Error: "username must be 1-32 characters"})
			return
		}

		user := dto.User{
			ID:       game.GenID(),
			Username: username,
		}

		pair, err := appState.Auth.IssuePair(user.ID, user.Username)
		if err != nil {
			zap.L().Error("签发令牌失败", zap.Error(err))
			ctx.StatusCode(iris.StatusInternalServerError)
			ctx.JSON(dto.ErrorResponse{Error: "internal server error"})
			return
		}

		zap.L().Info("访客登录", zap.String("user_id", user.ID), zap.String("username", user.Username))

		ctx.StatusCode(iris.StatusCreated)
		ctx.JSON(dto.GuestLoginResponse{
			User:         user,
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
		})
	}
}

func Refresh(appState *state.AppState) iris.Handler {
	return func(ctx iris.Context) {
		var req dto.RefreshRequest

		if err := ctx.ReadJSON(&req); err != nil || req.RefreshToken == "" {
			ctx.StatusCode(iris.StatusUnauthorized)
			ctx.JSON(dto.ErrorResponse{Error: "no refresh token"})
			return
		}

		claims, err := appState.Auth.VerifyRefresh(req.RefreshToken)
		if err != nil {
			ctx.StatusCode(iris.StatusUnauthorized)
			ctx.JSON(dto.ErrorResponse{Error: "invalid refresh token"})
			return
		}

		access, err := appState.Auth.IssueAccess(claims.ID, claims.Username)
		if err != nil {
			zap.L().Error("签发令牌失败", zap.Error(err))
			ctx.StatusCode(iris.StatusInternalServerError)
			ctx.JSON(dto.ErrorResponse{Error: "internal server error"})
			return
		}

		ctx.JSON(dto.RefreshResponse{AccessToken: access})
	}
}
