package service

import (
	"context"
	"errors"
	"time"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Notifier 把事件推送给房间内的连接
type Notifier interface {
	Broadcast(roomCode string, resp game.ResponseWrapper)
	Unicast(roomCode, userID string, resp game.ResponseWrapper)
}

type SessionOptions struct {
	MinPlayers    int
	SweepInterval time.Duration
	SweepWorkers  int
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		MinPlayers:    4,
		SweepInterval: 5 * time.Second,
		SweepWorkers:  8,
	}
}

// 游戏结束原因
const (
	REASON_IMPOSTOR_EJECTED = "impostor_ejected"
	REASON_IMPOSTOR_PARITY  = "impostor_parity"
	REASON_TASKS_COMPLETED  = "tasks_completed"
)

// SessionService 编排一局游戏的生命周期：开局、命令分发、会议超时扫描、
// 断线处理以及结束后的清理
type SessionService struct {
	engine   *game.Engine
	rooms    *RoomService
	notifier Notifier
	opts     SessionOptions
}

func NewSessionService(
	engine *game.Engine,
	rooms *RoomService,
	notifier Notifier,
	opts SessionOptions,
) *SessionService {
	d := DefaultSessionOptions()
	if opts.MinPlayers <= 0 {
		opts.MinPlayers = d.MinPlayers
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = d.SweepInterval
	}
	if opts.SweepWorkers <= 0 {
		opts.SweepWorkers = d.SweepWorkers
	}

	return &SessionService{
		engine:   engine,
		rooms:    rooms,
		notifier: notifier,
		opts:     opts,
	}
}

func (ss *SessionService) Engine() *game.Engine {
	return ss.engine
}

// StartGame 只有房主可以在大厅阶段开局
func (ss *SessionService) StartGame(ctx context.Context, roomCode, userID string) error {
	members, err := ss.rooms.StartRoom(roomCode, userID, ss.opts.MinPlayers)
	if err != nil {
		return err
	}

	s, err := ss.engine.InitSession(ctx, roomCode, members)
	if err != nil {
		if resetErr := ss.rooms.ResetToLobby(roomCode); resetErr != nil {
			err = multierr.Append(err, resetErr)
		}

		zap.L().Error(
			"初始化会话失败，房间已回到大厅",
			zap.String("room_code", roomCode),
			zap.Error(err),
		)

		return err
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}

	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_STARTED, game.StartedNotification{
		RoomCode:   roomCode,
		Players:    ids,
		TotalTasks: s.Tasks.Total,
	}))

	for _, m := range members {
		ss.notifier.Unicast(roomCode, m.UserID, game.WrapResponse(game.RESP_ROLE, game.RoleNotification{
			Role: m.Role,
		}))
	}

	return nil
}

// Handle 处理一条来自已认证连接的命令，userID 只来自连接本身
func (ss *SessionService) Handle(
	ctx context.Context,
	roomCode, userID string,
	req game.RequestWrapper,
) game.ResponseWrapper {
	err := ss.dispatch(ctx, roomCode, userID, req)
	if err != nil {
		logCommandError(roomCode, userID, req, err)
		return game.WrapErrAck(req, err)
	}

	return game.WrapAck(req)
}

func logCommandError(roomCode, userID string, req game.RequestWrapper, err error) {
	fields := []zap.Field{
		zap.String("room_code", roomCode),
		zap.String("user_id", userID),
		zap.String("command", req.ReqType),
		zap.Error(err),
	}

	// 规则拒绝属于正常流程
	if game.KindOf(err) != "" {
		zap.L().Debug("命令被拒绝", fields...)
		return
	}

	zap.L().Error("命令执行失败", fields...)
}

func (ss *SessionService) dispatch(
	ctx context.Context,
	roomCode, userID string,
	req game.RequestWrapper,
) error {
	if !ss.rooms.IsMember(roomCode, userID) {
		return ErrNotMember
	}

	switch req.ReqType {
	case game.REQ_START:
		return ss.StartGame(ctx, roomCode, userID)

	case game.REQ_MOVE:
		return ss.handleMove(ctx, roomCode, userID, req)

	case game.REQ_KILL:
		return ss.handleKill(ctx, roomCode, userID, req)

	case game.REQ_REPORT_BODY:
		data, err := unwrap[game.ReportBodyRequest](req)
		if err != nil {
			return err
		}

		started, err := ss.engine.ReportBody(ctx, roomCode, userID, data.VictimID)
		if err != nil {
			return err
		}

		ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_MEETING_STARTED, started))

		return nil

	case game.REQ_EMERGENCY_MEETING:
		started, err := ss.engine.StartMeeting(ctx, roomCode, userID)
		if err != nil {
			return err
		}

		ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_MEETING_STARTED, started))

		return nil

	case game.REQ_VOTE:
		return ss.handleVote(ctx, roomCode, userID, req)

	case game.REQ_RESOLVE_VOTES:
		return ss.handleResolve(ctx, roomCode, userID)

	case game.REQ_CHAT:
		data, err := unwrap[game.ChatRequest](req)
		if err != nil {
			return err
		}

		msg, err := ss.engine.Chat(ctx, roomCode, userID, data.Text)
		if err != nil {
			return err
		}

		ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_CHAT_MESSAGE, msg))

		return nil

	case game.REQ_CHAT_HISTORY:
		history, err := ss.engine.ChatHistory(ctx, roomCode)
		if err != nil {
			return err
		}

		ss.reply(roomCode, userID, req, game.RESP_CHAT_HISTORY, history)

		return nil

	case game.REQ_TASK_COMPLETE:
		res, err := ss.engine.CompleteTask(ctx, roomCode, userID)
		if err != nil {
			return err
		}

		ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_TASK_PROGRESS, res))

		if res.Ended {
			ss.finish(ctx, roomCode, res.Winner, REASON_TASKS_COMPLETED)
		}

		return nil

	case game.REQ_GET_BODIES:
		bodies, err := ss.engine.Bodies(ctx, roomCode)
		if err != nil {
			return err
		}

		ss.reply(roomCode, userID, req, game.RESP_BODIES, bodies)

		return nil

	case game.REQ_NEARBY_TARGETS:
		targets, err := ss.engine.NearbyTargets(ctx, roomCode, userID)
		if err != nil {
			return err
		}

		ss.reply(roomCode, userID, req, game.RESP_NEARBY_TARGETS, game.NearbyTargetsNotification{
			Targets: targets,
		})

		return nil

	case game.REQ_SNAPSHOT:
		return ss.sendSnapshot(ctx, roomCode, userID, req.RequestID)

	default:
		return game.NewError(game.KindPreconditionFailed, "unknown command %q", req.ReqType)
	}
}

// unwrap 把负载解码错误归为输入错误
func unwrap[T any](req game.RequestWrapper) (*T, error) {
	data, err := game.UnwrapData[T](req)
	if err != nil {
		return nil, game.NewError(game.KindPreconditionFailed, "malformed %s payload", req.ReqType)
	}

	return data, nil
}

func (ss *SessionService) reply(roomCode, userID string, req game.RequestWrapper, respType string, data any) {
	resp := game.WrapResponse(respType, data)
	resp.RequestID = req.RequestID

	ss.notifier.Unicast(roomCode, userID, resp)
}

func (ss *SessionService) handleMove(ctx context.Context, roomCode, userID string, req game.RequestWrapper) error {
	data, err := unwrap[game.MoveRequest](req)
	if err != nil {
		return err
	}

	if data.Position == nil {
		return game.NewError(game.KindPreconditionFailed, "position is required")
	}

	res, err := ss.engine.Move(ctx, roomCode, userID, *data.Position)
	if err != nil {
		return err
	}

	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_PLAYER_MOVED, res))

	if res.IsImpostor {
		ss.pushNearbyTargets(ctx, roomCode, userID)
	}

	return nil
}

// pushNearbyTargets 内鬼移动或击杀后主动推送可击杀目标
func (ss *SessionService) pushNearbyTargets(ctx context.Context, roomCode, impostorID string) {
	targets, err := ss.engine.NearbyTargets(ctx, roomCode, impostorID)
	if err != nil {
		zap.L().Warn(
			"查询附近目标失败",
			zap.String("room_code", roomCode),
			zap.String("user_id", impostorID),
			zap.Error(err),
		)
		return
	}

	ss.notifier.Unicast(roomCode, impostorID, game.WrapResponse(game.RESP_NEARBY_TARGETS, game.NearbyTargetsNotification{
		Targets: targets,
	}))
}

func (ss *SessionService) handleKill(ctx context.Context, roomCode, userID string, req game.RequestWrapper) error {
	data, err := unwrap[game.KillRequest](req)
	if err != nil {
		return err
	}

	res, err := ss.engine.Kill(ctx, roomCode, userID, data.VictimID)
	if err != nil {
		return err
	}

	// 击杀事件不包含凶手
	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_KILL_EVENT, game.KillEventNotification{
		VictimID: res.VictimID,
		Position: res.Position,
	}))

	if res.Ended {
		ss.finish(ctx, roomCode, res.Winner, REASON_IMPOSTOR_PARITY)
		return nil
	}

	ss.pushNearbyTargets(ctx, roomCode, userID)

	return nil
}

func (ss *SessionService) handleVote(ctx context.Context, roomCode, userID string, req game.RequestWrapper) error {
	data, err := unwrap[game.VoteRequest](req)
	if err != nil {
		return err
	}

	update, res, err := ss.engine.CastVote(ctx, roomCode, userID, data.TargetID)
	if err != nil {
		return err
	}

	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_VOTE_UPDATE, update))

	// 最后一票已在同一次写入中完成结算
	if res != nil {
		ss.publishResolution(ctx, roomCode, res)
	}

	return nil
}

// handleResolve 房主可以随时结算，其他玩家只能在所有人都投票后结算
func (ss *SessionService) handleResolve(ctx context.Context, roomCode, userID string) error {
	resolve := ss.engine.ResolveCompletedVoting
	if ss.rooms.IsHost(roomCode, userID) {
		resolve = ss.engine.ResolveVoting
	}

	res, err := resolve(ctx, roomCode)
	if err != nil {
		return err
	}

	ss.publishResolution(ctx, roomCode, res)

	return nil
}

func (ss *SessionService) publishResolution(ctx context.Context, roomCode string, res *game.Resolution) {
	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_VOTE_RESULT, res))

	if res.Ended {
		reason := REASON_IMPOSTOR_PARITY
		if res.Winner == game.RoleCrewmate {
			reason = REASON_IMPOSTOR_EJECTED
		}

		ss.finish(ctx, roomCode, res.Winner, reason)

		return
	}

	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_FREEPLAY_RESUMED, game.FreeplayResumedNotification{
		Phase: game.PhaseFreeplay,
	}))
}

// finish 公布结果后删除会话状态并把房间标记为已结束
// 只有观察到结束的那一次操作会调用它
func (ss *SessionService) finish(ctx context.Context, roomCode string, winner game.Role, reason string) {
	ended := game.EndedNotification{
		Winner: winner,
		Reason: reason,
	}

	if s, err := ss.engine.Snapshot(ctx, roomCode); err == nil {
		ended.Roles = game.RolesOf(s)
	}

	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_ENDED, ended))

	err := multierr.Combine(
		ss.engine.DeleteSession(ctx, roomCode),
		ss.rooms.FinishRoom(roomCode),
	)
	if err != nil {
		zap.L().Error(
			"游戏结束后清理失败",
			zap.String("room_code", roomCode),
			zap.Errors("errors", multierr.Errors(err)),
		)
		return
	}

	zap.L().Info(
		"游戏结束",
		zap.String("room_code", roomCode),
		zap.String("winner", string(winner)),
		zap.String("reason", reason),
	)
}

func (ss *SessionService) sendSnapshot(ctx context.Context, roomCode, userID, requestID string) error {
	s, err := ss.engine.Snapshot(ctx, roomCode)
	if err != nil {
		return err
	}

	resp := game.WrapResponse(game.RESP_SNAPSHOT, game.BuildSnapshot(s, userID))
	resp.RequestID = requestID

	ss.notifier.Unicast(roomCode, userID, resp)

	return nil
}

// Connect 绑定新的实时连接；对局进行中时清除断线标记并补发快照
func (ss *SessionService) Connect(ctx context.Context, roomCode, userID, socketID string) error {
	if err := ss.rooms.BindSocket(roomCode, userID, socketID); err != nil {
		return err
	}

	err := ss.engine.SetDisconnected(ctx, roomCode, userID, false)
	switch {
	case err == nil:
		if err := ss.sendSnapshot(ctx, roomCode, userID, ""); err != nil && !errors.Is(err, game.ErrNotFound) {
			return err
		}
	case errors.Is(err, game.ErrNotFound):
		// 还在大厅或已经结束
	default:
		return err
	}

	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_PLAYER_CONNECTED, game.ConnectionNotification{
		UserID: userID,
	}))

	return nil
}

// Disconnect 断线只设置标记，不会淘汰玩家
// 如果玩家已经通过新连接重连，旧连接的断开被忽略
func (ss *SessionService) Disconnect(ctx context.Context, roomCode, userID, socketID string) error {
	if !ss.rooms.ClearSocket(roomCode, userID, socketID) {
		return nil
	}

	err := ss.engine.SetDisconnected(ctx, roomCode, userID, true)
	if err != nil && !errors.Is(err, game.ErrNotFound) {
		return err
	}

	ss.notifier.Broadcast(roomCode, game.WrapResponse(game.RESP_PLAYER_DISCONNECTED, game.ConnectionNotification{
		UserID: userID,
	}))

	return nil
}

// RunSweep 定期结算超时的会议，直到 ctx 结束
func (ss *SessionService) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(ss.opts.SweepInterval)
	defer ticker.Stop()

	zap.L().Info("会议超时扫描已启动", zap.Duration("interval", ss.opts.SweepInterval))

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("会议超时扫描退出")
			return

		case <-ticker.C:
			if err := ss.SweepOnce(ctx); err != nil {
				zap.L().Error("会议超时扫描失败", zap.Error(err))
			}
		}
	}
}

// SweepOnce 并发检查所有活跃会话，会话已不存在时跳过
func (ss *SessionService) SweepOnce(ctx context.Context) error {
	codes, err := ss.engine.ActiveSessions(ctx)
	if err != nil {
		return err
	}

	p := pool.New().
		WithMaxGoroutines(ss.opts.SweepWorkers).
		WithContext(ctx)

	for _, code := range codes {
		p.Go(func(ctx context.Context) error {
			res, err := ss.engine.ResolveExpiredMeeting(ctx, code)
			if err != nil {
				if errors.Is(err, game.ErrNotFound) {
					return nil
				}

				return err
			}

			if res != nil {
				ss.publishResolution(ctx, code, res)
			}

			return nil
		})
	}

	return p.Wait()
}
