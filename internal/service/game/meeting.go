package game

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/geo"

	"go.uber.org/zap"
)

type MeetingStarted struct {
	Meeting
	// 报告尸体时为尸体位置，紧急会议时为空
	BodyPosition *geo.Position `json:"bodyPosition,omitempty"`
}

type VoteUpdate struct {
	VoterID  string `json:"voterId"`
	Voted    int    `json:"voted"`
	Alive    int    `json:"alive"`
	AllVoted bool   `json:"allVoted"`
}

// 会议结算结果
type VoteOutcome string

const (
	OutcomeEjected VoteOutcome = "ejected"
	OutcomeTie     VoteOutcome = "tie"
	OutcomeSkipped VoteOutcome = "skipped"
	OutcomeNoVotes VoteOutcome = "no_votes"
)

type Resolution struct {
	Outcome   VoteOutcome    `json:"outcome"`
	EjectedID string         `json:"ejectedId,omitempty"`
	Tally     map[string]int `json:"tally"`
	Ended     bool           `json:"ended"`
	Winner    Role           `json:"winner,omitempty"`
}

// openMeeting 进入会议阶段并设置截止时间
func (e *Engine) openMeeting(s *SessionState, origin MeetingOrigin, callerID, victimID string, now time.Time) (*Meeting, error) {
	if err := transition(s, PhaseMeeting); err != nil {
		return nil, err
	}

	endsAt := now.Add(e.rules.MeetingDuration).UnixMilli()

	s.Meeting = &Meeting{
		Origin:       origin,
		CallerID:     callerID,
		BodyVictimID: victimID,
		StartedAt:    now.UnixMilli(),
		EndsAt:       endsAt,
	}
	s.Timers[TimerMeetingEnd] = endsAt
	s.Votes = make(map[string]string)
	s.Chat = make([]ChatMessage, 0)

	m := *s.Meeting

	return &m, nil
}

// ReportBody 报告范围内的尸体并召开会议；尸体在会议结算时才清除
func (e *Engine) ReportBody(ctx context.Context, roomCode, reporterID, victimID string) (*MeetingStarted, error) {
	var res *MeetingStarted

	err := e.update(ctx, roomCode, func(s *SessionState, now time.Time) error {
		if err := requirePhase(s, actionReport); err != nil {
			return err
		}

		reporter, err := livePlayer(s, reporterID)
		if err != nil {
			return err
		}

		body, ok := s.findBody(victimID)
		if !ok {
			return notFound("no body for %s", victimID)
		}

		pos := body.Position()
		if d := geo.Distance(reporter.Position, pos); d > e.rules.ReportRange {
			return preconditionFailed("body is too far away to report (%.1fm, max %.1fm)", d, e.rules.ReportRange)
		}

		m, err := e.openMeeting(s, MeetingOriginReport, reporterID, victimID, now)
		if err != nil {
			return err
		}

		res = &MeetingStarted{Meeting: *m, BodyPosition: &pos}

		return nil
	})

	return res, err
}

// StartMeeting 紧急会议，不需要尸体也不检查距离
func (e *Engine) StartMeeting(ctx context.Context, roomCode, callerID string) (*MeetingStarted, error) {
	var res *MeetingStarted

	err := e.update(ctx, roomCode, func(s *SessionState, now time.Time) error {
		if err := requirePhase(s, actionMeeting); err != nil {
			return err
		}

		if _, err := livePlayer(s, callerID); err != nil {
			return err
		}

		m, err := e.openMeeting(s, MeetingOriginEmergency, callerID, "", now)
		if err != nil {
			return err
		}

		res = &MeetingStarted{Meeting: *m}

		return nil
	})

	return res, err
}

// Chat 会议中的发言，最多保留最近 ChatCapacity 条
func (e *Engine) Chat(ctx context.Context, roomCode, userID, text string) (*ChatMessage, error) {
	var msg *ChatMessage

	text = strings.TrimSpace(text)

	err := e.update(ctx, roomCode, func(s *SessionState, now time.Time) error {
		if err := requirePhase(s, actionChat); err != nil {
			return err
		}

		if _, err := livePlayer(s, userID); err != nil {
			return err
		}

		if text == "" {
			return exhausted("message is empty")
		}

		if n := utf8.RuneCountInString(text); n > e.rules.ChatMaxLength {
			return exhausted("message is too long (%d characters, max %d)", n, e.rules.ChatMaxLength)
		}

		m := ChatMessage{
			ID:     GenID(),
			UserID: userID,
			Text:   text,
			SentAt: now.UnixMilli(),
		}

		s.Chat = append(s.Chat, m)
		if over := len(s.Chat) - e.rules.ChatCapacity; over > 0 {
			s.Chat = append(make([]ChatMessage, 0, e.rules.ChatCapacity), s.Chat[over:]...)
		}

		msg = &m

		return nil
	})

	return msg, err
}

// ChatHistory 返回当前会议的聊天记录
func (e *Engine) ChatHistory(ctx context.Context, roomCode string) ([]ChatMessage, error) {
	var history []ChatMessage

	err := e.view(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		if err := requirePhase(s, actionHistory); err != nil {
			return err
		}

		history = append(make([]ChatMessage, 0, len(s.Chat)), s.Chat...)

		return nil
	})

	return history, err
}

// Vote 记录投票，targetID 为空或 VoteSkip 表示跳过；重复投票以最后一次为准
func (e *Engine) Vote(ctx context.Context, roomCode, voterID, targetID string) (*VoteUpdate, error) {
	var res *VoteUpdate

	err := e.update(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		u, err := recordVote(s, voterID, targetID)
		if err != nil {
			return err
		}

		res = u

		return nil
	})

	return res, err
}

// CastVote 记录投票，最后一名存活玩家投票后在同一次写入中结算会议
// 未结算时返回的 Resolution 为 nil
func (e *Engine) CastVote(ctx context.Context, roomCode, voterID, targetID string) (*VoteUpdate, *Resolution, error) {
	var (
		update *VoteUpdate
		res    *Resolution
	)

	err := e.update(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		// 冲突重放时清掉上一轮的结果
		update, res = nil, nil

		u, err := recordVote(s, voterID, targetID)
		if err != nil {
			return err
		}

		update = u

		if !u.AllVoted {
			return nil
		}

		r, err := resolveMeeting(s)
		if err != nil {
			return err
		}

		res = r

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if res != nil {
		logResolution(roomCode, res)
	}

	return update, res, nil
}

func recordVote(s *SessionState, voterID, targetID string) (*VoteUpdate, error) {
	if targetID == "" {
		targetID = VoteSkip
	}

	if err := requirePhase(s, actionVote); err != nil {
		return nil, err
	}

	if _, err := livePlayer(s, voterID); err != nil {
		return nil, err
	}

	if targetID != VoteSkip {
		target, ok := s.Players[targetID]
		if !ok {
			return nil, notFound("vote target %s is not in this session", targetID)
		}

		if !target.Alive {
			return nil, preconditionFailed("cannot vote for a dead player")
		}
	}

	s.Votes[voterID] = targetID

	return voteUpdate(s, voterID), nil
}

func voteUpdate(s *SessionState, voterID string) *VoteUpdate {
	alive, voted := 0, 0

	for id, p := range s.Players {
		if !p.Alive {
			continue
		}

		alive++

		if _, ok := s.Votes[id]; ok {
			voted++
		}
	}

	return &VoteUpdate{
		VoterID:  voterID,
		Voted:    voted,
		Alive:    alive,
		AllVoted: voted == alive,
	}
}

// AllVoted 是否所有存活玩家都已投票
func (e *Engine) AllVoted(ctx context.Context, roomCode string) (bool, error) {
	var all bool

	err := e.view(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		all = s.Phase == PhaseMeeting && s.AllVoted()
		return nil
	})

	return all, err
}

// ResolveVoting 结算会议：唯一最高票者被驱逐；最高票并列或最高票为跳过时无人出局
func (e *Engine) ResolveVoting(ctx context.Context, roomCode string) (*Resolution, error) {
	var res *Resolution

	err := e.update(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		if err := requirePhase(s, actionResolve); err != nil {
			return err
		}

		r, err := resolveMeeting(s)
		if err != nil {
			return err
		}

		res = r

		return nil
	})

	if err == nil {
		logResolution(roomCode, res)
	}

	return res, err
}

// ResolveCompletedVoting 只在所有存活玩家都已投票时结算，判断和结算在同一次写入内完成
func (e *Engine) ResolveCompletedVoting(ctx context.Context, roomCode string) (*Resolution, error) {
	var res *Resolution

	err := e.update(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		if err := requirePhase(s, actionResolve); err != nil {
			return err
		}

		if !s.AllVoted() {
			return unauthorized("only the host can resolve before everyone has voted")
		}

		r, err := resolveMeeting(s)
		if err != nil {
			return err
		}

		res = r

		return nil
	})

	if err == nil {
		logResolution(roomCode, res)
	}

	return res, err
}

// ResolveExpiredMeeting 供定时扫描使用：会议已过截止时间才结算
// 会话不在会议阶段或尚未到期时返回 nil 且不写回
func (e *Engine) ResolveExpiredMeeting(ctx context.Context, roomCode string) (*Resolution, error) {
	var res *Resolution

	err := e.update(ctx, roomCode, func(s *SessionState, now time.Time) error {
		if s.Phase != PhaseMeeting {
			return errNoChange
		}

		deadline, ok := s.Timers[TimerMeetingEnd]
		if ok && now.UnixMilli() < deadline {
			return errNoChange
		}

		r, err := resolveMeeting(s)
		if err != nil {
			return err
		}

		res = r

		return nil
	})

	if err == nil && res != nil {
		logResolution(roomCode, res)
	}

	return res, err
}

func logResolution(roomCode string, res *Resolution) {
	zap.L().Info(
		"会议结算完成",
		zap.String("room_code", roomCode),
		zap.String("outcome", string(res.Outcome)),
		zap.String("ejected_id", res.EjectedID),
		zap.Bool("ended", res.Ended),
	)
}

// tallyVotes 只统计仍存活的投票者，跳过单独计为一档
func tallyVotes(s *SessionState) map[string]int {
	tally := make(map[string]int)

	for voterID, target := range s.Votes {
		voter, ok := s.Players[voterID]
		if !ok || !voter.Alive {
			continue
		}

		tally[target]++
	}

	return tally
}

// pluralityOf 找出唯一最高票；并列、跳过领先、无人投票都不驱逐
func pluralityOf(tally map[string]int) (VoteOutcome, string) {
	if len(tally) == 0 {
		return OutcomeNoVotes, ""
	}

	var (
		top  string
		best int
		tied bool
	)

	for target, n := range tally {
		switch {
		case n > best:
			top, best, tied = target, n, false
		case n == best:
			tied = true
		}
	}

	if tied {
		return OutcomeTie, ""
	}

	if top == VoteSkip {
		return OutcomeSkipped, ""
	}

	return OutcomeEjected, top
}

func resolveMeeting(s *SessionState) (*Resolution, error) {
	tally := tallyVotes(s)
	outcome, ejectedID := pluralityOf(tally)

	if outcome == OutcomeEjected {
		if p, ok := s.Players[ejectedID]; ok && p.Alive {
			p.Alive = false
		} else {
			// 目标已不存在或已死亡，按无人出局处理
			outcome, ejectedID = OutcomeNoVotes, ""
		}
	}

	s.Votes = make(map[string]string)
	s.Chat = make([]ChatMessage, 0)
	s.Bodies = make([]Body, 0)
	s.Meeting = nil
	delete(s.Timers, TimerMeetingEnd)

	if err := transition(s, PhaseFreeplay); err != nil {
		return nil, err
	}

	res := &Resolution{
		Outcome:   outcome,
		EjectedID: ejectedID,
		Tally:     tally,
	}

	if winner, ok := EvaluateWinCondition(s.Players); ok {
		if err := endSession(s, winner); err != nil {
			return nil, err
		}

		res.Ended = true
		res.Winner = winner
	}

	return res, nil
}
