package service

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"time"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/dto"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"
)

// 去掉了容易混淆的 I、L、O、0、1
const roomCodeChars = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

var (
	ErrRoomNotFound     = game.NewError(game.KindNotFound, "room not found")
	ErrInvalidRoomCode  = game.NewError(game.KindPreconditionFailed, "invalid room code format")
	ErrRoomNotInLobby   = game.NewError(game.KindInvalidPhase, "game already started")
	ErrRoomFull         = game.NewError(game.KindPreconditionFailed, "room is full")
	ErrAlreadyJoined    = game.NewError(game.KindPreconditionFailed, "user already in room")
	ErrNotMember        = game.NewError(game.KindUnauthorized, "user is not a member of this room")
	ErrNotHost          = game.NewError(game.KindUnauthorized, "only the host can do this")
	ErrNotEnoughPlayers = game.NewError(game.KindPreconditionFailed, "not enough players to start")
	ErrInvalidHost      = game.NewError(game.KindPreconditionFailed, "host id is required")
	ErrInvalidCapacity  = game.NewError(game.KindPreconditionFailed, "max players is out of range")
)

// ValidRoomCode 只检查格式，不检查房间是否存在
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

func generateRoomCode() string {
	b := make([]byte, roomCodeLength)
	max := big.NewInt(int64(len(roomCodeChars)))

	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("Failed to generate room code: " + err.Error())
		}
		b[i] = roomCodeChars[idx.Int64()]
	}

	return string(b)
}

// isRoomValid 判断房间是否还需要保留
// 已结束的房间保留一段时间供查询；没有成员的大厅超过空闲时间后清理
func isRoomValid(room *dto.Room, now time.Time, opts RoomOptions) bool {
	if room == nil {
		return false
	}

	idle := now.Sub(time.UnixMilli(room.UpdatedAt))

	switch room.Status {
	case dto.STATUS_FINISHED:
		return idle < opts.FinishedRetention
	case dto.STATUS_LOBBY:
		return len(room.Players) > 0 || idle < opts.IdleTimeout
	default:
		return true
	}
}
