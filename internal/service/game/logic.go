package game

import (
	"context"
	"sort"
	"time"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/geo"

	"go.uber.org/zap"
)

type MoveResult struct {
	UserID   string       `json:"userId"`
	Position geo.Position `json:"position"`
	// 移动者是否为内鬼，决定是否需要单播附近目标
	IsImpostor bool `json:"-"`
}

type NearbyTarget struct {
	UserID   string  `json:"userId"`
	Distance float64 `json:"distance"`
}

type KillResult struct {
	VictimID string       `json:"victimId"`
	Position geo.Position `json:"position"`
	Body     Body         `json:"body"`
	Ended    bool         `json:"ended"`
	Winner   Role         `json:"winner,omitempty"`
}

type TaskResult struct {
	UserID    string `json:"userId"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	ByPlayer  int    `json:"byPlayer"`
	Ended     bool   `json:"ended"`
	Winner    Role   `json:"winner,omitempty"`
}

// EvaluateWinCondition 只根据玩家存活情况判断胜负：
// 内鬼全部出局则船员胜利；存活内鬼数不少于存活船员数则内鬼胜利
func EvaluateWinCondition(players map[string]*PlayerState) (Role, bool) {
	impostors, crew := countAlive(players)

	if impostors == 0 {
		return RoleCrewmate, true
	}

	if impostors >= crew {
		return RoleImpostor, true
	}

	return "", false
}

// livePlayer 取出仍存活的玩家，不存在或已死亡时返回对应错误
func livePlayer(s *SessionState, userID string) (*PlayerState, error) {
	p, ok := s.Players[userID]
	if !ok {
		return nil, notFound("player %s is not in this session", userID)
	}

	if !p.Alive {
		return nil, preconditionFailed("dead players cannot act")
	}

	return p, nil
}

// Move 更新玩家坐标，不限制单次移动距离
func (e *Engine) Move(ctx context.Context, roomCode, userID string, pos geo.Position) (*MoveResult, error) {
	var res *MoveResult

	err := e.update(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		if err := requirePhase(s, actionMove); err != nil {
			return err
		}

		p, err := livePlayer(s, userID)
		if err != nil {
			return err
		}

		if err := pos.Valid(); err != nil {
			return exhausted("invalid position: lat and lng must be finite and in range")
		}

		p.Position = pos

		res = &MoveResult{
			UserID:     userID,
			Position:   pos,
			IsImpostor: p.Role == RoleImpostor,
		}

		return nil
	})

	return res, err
}

// NearbyTargets 返回内鬼击杀范围内的存活船员，按距离升序排列
// 任一条件不满足时返回空列表而不是错误
func (e *Engine) NearbyTargets(ctx context.Context, roomCode, impostorID string) ([]NearbyTarget, error) {
	targets := make([]NearbyTarget, 0)

	err := e.view(ctx, roomCode, func(s *SessionState, now time.Time) error {
		if !actionNearby.allowedIn(s.Phase) {
			return nil
		}

		me, ok := s.Players[impostorID]
		if !ok || !me.Alive || me.Role != RoleImpostor {
			return nil
		}

		if me.Cooldowns.KillUntil > now.UnixMilli() {
			return nil
		}

		for _, id := range s.orderedIDs() {
			if id == impostorID {
				continue
			}

			p := s.Players[id]
			if !p.Alive || p.Role == RoleImpostor {
				continue
			}

			d := geo.Distance(me.Position, p.Position)
			if d <= e.rules.KillRange {
				targets = append(targets, NearbyTarget{UserID: id, Distance: d})
			}
		}

		// 稳定排序，距离相同时保持成员顺序
		sort.SliceStable(targets, func(i, j int) bool {
			return targets[i].Distance < targets[j].Distance
		})

		return nil
	})

	return targets, err
}

// Kill 内鬼击杀范围内的船员，在受害者位置留下尸体并进入冷却
func (e *Engine) Kill(ctx context.Context, roomCode, killerID, victimID string) (*KillResult, error) {
	var res *KillResult

	err := e.update(ctx, roomCode, func(s *SessionState, now time.Time) error {
		if err := requirePhase(s, actionKill); err != nil {
			return err
		}

		killer, err := livePlayer(s, killerID)
		if err != nil {
			return err
		}

		if killer.Role != RoleImpostor {
			return unauthorized("only the impostor can kill")
		}

		if remaining := killer.Cooldowns.KillUntil - now.UnixMilli(); remaining > 0 {
			return preconditionFailed("kill is on cooldown for another %ds", (remaining+999)/1000)
		}

		if victimID == killerID {
			return preconditionFailed("cannot kill yourself")
		}

		victim, ok := s.Players[victimID]
		if !ok {
			return notFound("victim %s is not in this session", victimID)
		}

		if !victim.Alive {
			return preconditionFailed("victim is already dead")
		}

		if victim.Role == RoleImpostor {
			return unauthorized("cannot kill another impostor")
		}

		if d := geo.Distance(killer.Position, victim.Position); d > e.rules.KillRange {
			return preconditionFailed("victim is too far away (%.1fm, max %.1fm)", d, e.rules.KillRange)
		}

		victim.Alive = false

		body := Body{
			VictimID: victimID,
			Lat:      victim.Position.Lat,
			Lng:      victim.Position.Lng,
			KilledAt: now.UnixMilli(),
		}
		s.Bodies = append(s.Bodies, body)

		killer.Cooldowns.KillUntil = now.Add(e.rules.KillCooldown).UnixMilli()

		res = &KillResult{
			VictimID: victimID,
			Position: victim.Position,
			Body:     body,
		}

		if winner, ok := EvaluateWinCondition(s.Players); ok {
			if err := endSession(s, winner); err != nil {
				return err
			}

			res.Ended = true
			res.Winner = winner
		}

		return nil
	})

	if err == nil && res.Ended {
		zap.L().Info(
			"击杀后游戏结束",
			zap.String("room_code", roomCode),
			zap.String("winner", string(res.Winner)),
		)
	}

	return res, err
}

// CompleteTask 船员完成一个任务，累计达到总数时船员胜利
func (e *Engine) CompleteTask(ctx context.Context, roomCode, userID string) (*TaskResult, error) {
	var res *TaskResult

	err := e.update(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		if err := requirePhase(s, actionTask); err != nil {
			return err
		}

		p, err := livePlayer(s, userID)
		if err != nil {
			return err
		}

		if p.Role == RoleImpostor {
			return unauthorized("impostors cannot complete tasks")
		}

		if s.Tasks.Completed >= s.Tasks.Total {
			return exhausted("all tasks are already completed")
		}

		s.Tasks.Completed++
		s.Tasks.PerPlayer[userID]++

		res = &TaskResult{
			UserID:    userID,
			Completed: s.Tasks.Completed,
			Total:     s.Tasks.Total,
			ByPlayer:  s.Tasks.PerPlayer[userID],
		}

		if s.Tasks.Completed >= s.Tasks.Total {
			if err := endSession(s, RoleCrewmate); err != nil {
				return err
			}

			res.Ended = true
			res.Winner = RoleCrewmate
		}

		return nil
	})

	return res, err
}

// Bodies 返回当前地图上的尸体
func (e *Engine) Bodies(ctx context.Context, roomCode string) ([]Body, error) {
	var bodies []Body

	err := e.view(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		bodies = append(make([]Body, 0, len(s.Bodies)), s.Bodies...)
		return nil
	})

	return bodies, err
}
