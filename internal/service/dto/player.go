package dto

const (
	ROLE_CREWMATE = "crewmate"
	ROLE_IMPOSTOR = "impostor"
)

// Player 是玩家在某个房间中的成员记录
type Player struct {
	RoomCode string `json:"room_code"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	// 可空，仅在玩家持有实时连接时有值，重连时会被替换
	SocketID string `json:"socket_id,omitempty"`
	JoinedAt int64  `json:"joined_at"`
}

// User 是访客登录后得到的身份，只存在于令牌中
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
