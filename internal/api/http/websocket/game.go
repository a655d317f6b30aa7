package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/dto"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/state"

	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errRateLimited = game.NewError(game.KindExhausted, "too many requests, slow down")
	errMalformed   = game.NewError(game.KindPreconditionFailed, "invalid request format")
)

// JoinGame 校验令牌与成员身份后升级为 WebSocket
// 连接的用户身份只来自令牌，之后所有命令都以该身份执行
func JoinGame(appState *state.AppState, hub *Hub) iris.Handler {
	return func(ctx iris.Context) {
		roomCode := ctx.URLParam("room")
		if !service.ValidRoomCode(roomCode) {
			ctx.StatusCode(iris.StatusBadRequest)
			ctx.JSON(dto.ErrorResponse{Error: "invalid room code format"})
			return
		}

		claims, err := appState.Auth.VerifyAccess(ctx.URLParam("token"))
		if err != nil {
			ctx.StatusCode(iris.StatusUnauthorized)
			ctx.JSON(dto.ErrorResponse{Error: "invalid or expired token"})
			return
		}

		userID := claims.ID

		if !appState.RoomSvc.IsMember(roomCode, userID) {
			ctx.StatusCode(iris.StatusForbidden)
			ctx.JSON(dto.ErrorResponse{Error: "join the room before connecting"})
			return
		}

		conn, err := upgrader.Upgrade(
			ctx.ResponseWriter(),
			ctx.Request(),
			nil,
		)
		if err != nil {
			zap.L().Error("升级到WebSocket失败", zap.Error(err))
			return
		}

		defer conn.Close()

		wsCfg := appState.Cfg.WS
		clientIP := ctx.RemoteAddr()

		if wsCfg.ReadLimit > 0 {
			conn.SetReadLimit(wsCfg.ReadLimit)
		}
		conn.SetReadDeadline(time.Now().Add(HEARTBEAT_TIMEOUT))
		conn.SetPongHandler(heartbeatHandler(conn))

		client := NewClient(roomCode, userID, wsCfg.SendBuffer)
		hub.Register(client)

		connectCtx, cancel := commandContext(wsCfg.CommandTimeout)
		err = appState.GameSvc.Connect(connectCtx, roomCode, userID, client.ID)
		cancel()

		if err != nil {
			zap.L().Error(
				"绑定连接失败",
				zap.String("room_code", roomCode),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			hub.Unregister(client)
			return
		}

		zap.L().Info(
			"玩家已连接",
			zap.String("client_ip", clientIP),
			zap.String("room_code", roomCode),
			zap.String("user_id", userID),
			zap.String("socket_id", client.ID),
		)

		writeDoneCh := make(chan struct{})
		go writeLoop(conn, client, clientIP, writeDoneCh)

		readLoop(conn, appState, hub, client, clientIP)

		// 读循环退出表示客户端断开，注销后写协程会随发送通道关闭而退出
		hub.Unregister(client)
		<-writeDoneCh

		disconnectCtx, cancel := commandContext(wsCfg.CommandTimeout)
		defer cancel()

		if err := appState.GameSvc.Disconnect(disconnectCtx, roomCode, userID, client.ID); err != nil {
			zap.L().Error(
				"处理断线失败",
				zap.String("room_code", roomCode),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}

		zap.L().Info(
			"WebSocket连接处理完成",
			zap.String("client_ip", clientIP),
			zap.String("room_code", roomCode),
			zap.String("user_id", userID),
		)
	}
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return context.WithTimeout(context.Background(), timeout)
}

func readLoop(
	conn *websocket.Conn,
	appState *state.AppState,
	hub *Hub,
	client *Client,
	clientIP string,
) {
	wsCfg := appState.Cfg.WS

	limiter := rate.NewLimiter(rate.Limit(wsCfg.RateLimit), wsCfg.RateBurst)
	if wsCfg.RateLimit <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				zap.L().Warn(
					"读取消息失败",
					zap.String("client_ip", clientIP),
					zap.String("user_id", client.UserID),
					zap.Error(err),
				)
			}

			return
		}

		var wrapper game.RequestWrapper

		if err := json.Unmarshal(msg, &wrapper); err != nil {
			zap.L().Debug(
				"解析消息失败",
				zap.String("client_ip", clientIP),
				zap.Error(err),
			)

			hub.Send(client, game.WrapErrAck(wrapper, errMalformed))

			continue
		}

		if !limiter.Allow() {
			hub.Send(client, game.WrapErrAck(wrapper, errRateLimited))
			continue
		}

		cmdCtx, cancel := commandContext(wsCfg.CommandTimeout)
		ack := appState.GameSvc.Handle(cmdCtx, client.RoomCode, client.UserID, wrapper)
		cancel()

		hub.Send(client, ack)
	}
}

// writeLoop 是唯一写连接的协程，负责心跳和下发消息
func writeLoop(conn *websocket.Conn, client *Client, clientIP string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(HEARTBEAT_INTERVAL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				zap.L().Warn(
					"发送心跳失败",
					zap.String("client_ip", clientIP),
					zap.Error(err),
				)
				// 关闭连接让读循环退出
				conn.Close()
				drain(client)
				return
			}

		case resp, ok := <-client.Outbound():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))
				conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}

			conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))

			if err := conn.WriteJSON(resp); err != nil {
				zap.L().Warn(
					"发送消息失败",
					zap.String("client_ip", clientIP),
					zap.Error(err),
				)
				conn.Close()
				drain(client)
				return
			}

			zap.L().Debug(
				"发送消息",
				zap.String("client_ip", clientIP),
				zap.String("response_type", resp.RespType),
			)
		}
	}
}

// drain 写失败后丢弃剩余消息直到连接被注销
func drain(client *Client) {
	for range client.Outbound() {
	}
}
