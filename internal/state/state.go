package state

import (
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/auth"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/config"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service"
)

type AppState struct {
	Cfg     *config.AppConfig
	Auth    *auth.Issuer
	RoomSvc *service.RoomService
	GameSvc *service.SessionService
}

func NewAppState(
	cfg *config.AppConfig,
	issuer *auth.Issuer,
	roomSvc *service.RoomService,
	gameSvc *service.SessionService,
) *AppState {
	return &AppState{
		Cfg:     cfg,
		Auth:    issuer,
		RoomSvc: roomSvc,
		GameSvc: gameSvc,
	}
}
