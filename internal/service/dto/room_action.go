package dto

type CreateRoomRequest struct {
	// 为 0 时使用默认值
	MaxPlayers int `json:"max_players"`
}

type JoinRoomResponse struct {
	Room   Room   `json:"room"`
	Player Player `json:"player"`
}

type GuestLoginRequest struct {
	Username string `json:"username"`
}

type GuestLoginResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
