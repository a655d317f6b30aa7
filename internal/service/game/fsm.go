package game

// 一局游戏的阶段：
// 1. 大厅（lobby）：房间仍在等待玩家，会话尚未创建
// 2. 已开始（started）：身份已分配，会话正在初始化
// 3. 自由活动（freeplay）：移动、击杀、做任务、报告尸体
// 4. 会议（meeting）：限时讨论与投票
// 5. 结束（ended）：已分出胜负，终态
// freeplay 与 meeting 可以反复切换，任何非终态都可以进入 ended
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseStarted  Phase = "started"
	PhaseFreeplay Phase = "freeplay"
	PhaseMeeting  Phase = "meeting"
	PhaseEnded    Phase = "ended"
)

func (p Phase) String() string {
	return string(p)
}

// CanTransitionTo 检查阶段切换是否合法
func (p Phase) CanTransitionTo(next Phase) bool {
	switch p {
	case PhaseLobby:
		return next == PhaseStarted || next == PhaseEnded
	case PhaseStarted:
		return next == PhaseFreeplay || next == PhaseEnded
	case PhaseFreeplay:
		return next == PhaseMeeting || next == PhaseEnded
	case PhaseMeeting:
		return next == PhaseFreeplay || next == PhaseEnded
	case PhaseEnded:
		return false
	default:
		return false
	}
}

// 各动作允许的阶段
type action string

const (
	actionMove    action = "move"
	actionNearby  action = "scan for targets"
	actionKill    action = "kill"
	actionReport  action = "report a body"
	actionMeeting action = "call a meeting"
	actionChat    action = "chat"
	actionVote    action = "vote"
	actionResolve action = "resolve votes"
	actionTask    action = "complete a task"
	actionHistory action = "read chat"
)

func (a action) allowedIn(p Phase) bool {
	switch a {
	case actionMove, actionNearby, actionKill, actionReport, actionMeeting, actionTask:
		return p == PhaseFreeplay
	case actionChat, actionVote, actionResolve:
		return p == PhaseMeeting
	case actionHistory:
		return p == PhaseMeeting || p == PhaseFreeplay
	default:
		return false
	}
}

// requirePhase 在阶段不匹配时返回 InvalidPhase 错误
func requirePhase(s *SessionState, a action) error {
	if !a.allowedIn(s.Phase) {
		return invalidPhase(string(a), s.Phase)
	}

	return nil
}

// transition 执行阶段切换，非法切换视为阶段错误
func transition(s *SessionState, next Phase) error {
	if !s.Phase.CanTransitionTo(next) {
		return NewError(KindInvalidPhase, "cannot move from %s to %s", s.Phase, next)
	}

	s.Phase = next

	return nil
}
