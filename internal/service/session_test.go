package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/geo"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/dto"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/store"
)

var (
	basePos = geo.Position{Lat: 28.6139, Lng: 77.2090}
	farPos  = geo.Position{Lat: 28.6139, Lng: 77.2095}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEvent struct {
	roomCode string
	// 为空表示广播
	userID string
	resp   game.ResponseWrapper
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *fakeNotifier) Broadcast(roomCode string, resp game.ResponseWrapper) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{roomCode: roomCode, resp: resp})
}

func (n *fakeNotifier) Unicast(roomCode, userID string, resp game.ResponseWrapper) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{roomCode: roomCode, userID: userID, resp: resp})
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

// find 返回指定类型的事件，userID 为空时只匹配广播
func (n *fakeNotifier) find(respType, userID string) []game.ResponseWrapper {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []game.ResponseWrapper
	for _, e := range n.events {
		if e.resp.RespType == respType && e.userID == userID {
			out = append(out, e.resp)
		}
	}

	return out
}

type sessionFixture struct {
	svc      *SessionService
	rooms    *RoomService
	notifier *fakeNotifier
	clock    *testClock
	code     string
	impostor string
	crew     []string
}

func newSessionFixture(t *testing.T, st store.SessionStore, rules game.Rules) *sessionFixture {
	t.Helper()

	if st == nil {
		st = store.NewMemoryStore()
	}

	clock := newTestClock()

	engine := game.NewEngine(st, store.JSONCodec, rules)
	engine.SetClock(clock.Now)

	rooms, _ := newTestRoomService(t, RoomOptions{})
	notifier := &fakeNotifier{}

	svc := NewSessionService(engine, rooms, notifier, SessionOptions{MinPlayers: 4})

	room, err := rooms.CreateRoom("host", 0)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	for _, id := range []string{"host", "p1", "p2", "p3"} {
		if _, _, err := rooms.JoinRoom(room.Code, id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	return &sessionFixture{
		svc:      svc,
		rooms:    rooms,
		notifier: notifier,
		clock:    clock,
		code:     room.Code,
	}
}

// start 开局并记录谁是内鬼
func (f *sessionFixture) start(t *testing.T) {
	t.Helper()

	if err := f.svc.StartGame(context.Background(), f.code, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	players, _ := f.rooms.Members(f.code)
	for _, p := range players {
		if p.Role == dto.ROLE_IMPOSTOR {
			f.impostor = p.UserID
		} else {
			f.crew = append(f.crew, p.UserID)
		}
	}

	f.notifier.reset()
}

func (f *sessionFixture) handle(t *testing.T, userID, reqType string, data any) game.Ack {
	t.Helper()

	req := game.RequestWrapper{ReqType: reqType, RequestID: "req-" + reqType}
	if data != nil {
		req.Data = mustJSON(t, data)
	}

	resp := f.svc.Handle(context.Background(), f.code, userID, req)
	if resp.RespType != game.RESP_ACK || resp.RequestID != req.RequestID {
		t.Fatalf("unexpected ack envelope: %+v", resp)
	}

	return resp.Data.(game.Ack)
}

func (f *sessionFixture) mustHandle(t *testing.T, userID, reqType string, data any) {
	t.Helper()

	if ack := f.handle(t, userID, reqType, data); !ack.OK {
		t.Fatalf("%s by %s failed: %s (%s)", reqType, userID, ack.Message, ack.Kind)
	}
}

func (f *sessionFixture) moveAll(t *testing.T, pos geo.Position) {
	t.Helper()

	for _, id := range append([]string{f.impostor}, f.crew...) {
		f.mustHandle(t, id, game.REQ_MOVE, game.MoveRequest{Position: &pos})
	}
}

func TestStartGame(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	ctx := context.Background()

	err := f.svc.StartGame(ctx, f.code, "p1")
	if !errors.Is(err, ErrNotHost) {
		t.Fatalf("want ErrNotHost, got %v", err)
	}

	if err := f.svc.StartGame(ctx, f.code, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if len(f.notifier.find(game.RESP_STARTED, "")) != 1 {
		t.Fatalf("started should be broadcast once")
	}

	for _, id := range []string{"host", "p1", "p2", "p3"} {
		if len(f.notifier.find(game.RESP_ROLE, id)) != 1 {
			t.Fatalf("%s did not receive a role", id)
		}
	}

	s, err := f.svc.Engine().Snapshot(ctx, f.code)
	if err != nil || s.Phase != game.PhaseFreeplay {
		t.Fatalf("session not started: %v", err)
	}

	if err := f.svc.StartGame(ctx, f.code, "host"); game.KindOf(err) != game.KindInvalidPhase {
		t.Fatalf("second start should be InvalidPhase, got %v", err)
	}
}

func TestStartGameNeedsMinimumPlayers(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})

	room, _ := f.rooms.CreateRoom("solo", 0)
	_, _, _ = f.rooms.JoinRoom(room.Code, "solo")

	err := f.svc.StartGame(context.Background(), room.Code, "solo")
	if game.KindOf(err) != game.KindPreconditionFailed {
		t.Fatalf("want PreconditionFailed, got %v", err)
	}
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Save(context.Context, string, []byte, int64) (int64, error) {
	return 0, errors.New("store unavailable")
}

func TestStartGameRevertsRoomWhenInitFails(t *testing.T) {
	f := newSessionFixture(t, failingStore{store.NewMemoryStore()}, game.Rules{})

	if err := f.svc.StartGame(context.Background(), f.code, "host"); err == nil {
		t.Fatalf("start should fail when the store is down")
	}

	room, _ := f.rooms.Lookup(f.code)
	if room.Status != dto.STATUS_LOBBY {
		t.Fatalf("room should be back in lobby, got %s", room.Status)
	}

	if len(f.notifier.find(game.RESP_STARTED, "")) != 0 {
		t.Fatalf("nothing should be broadcast on failure")
	}
}

func TestHandleRejectsNonMembers(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	f.start(t)

	ack := f.handle(t, "stranger", game.REQ_MOVE, game.MoveRequest{Position: &basePos})
	if ack.OK || ack.Kind != string(game.KindUnauthorized) {
		t.Fatalf("want Unauthorized ack, got %+v", ack)
	}
}

func TestHandleMalformedAndUnknownCommands(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	f.start(t)

	if ack := f.handle(t, f.crew[0], game.REQ_MOVE, nil); ack.OK || ack.Kind != string(game.KindPreconditionFailed) {
		t.Fatalf("empty move payload should fail: %+v", ack)
	}

	if ack := f.handle(t, f.crew[0], game.REQ_MOVE, map[string]any{}); ack.OK {
		t.Fatalf("move without position should fail: %+v", ack)
	}

	bad := geo.Position{Lat: 95, Lng: 0}
	if ack := f.handle(t, f.crew[0], game.REQ_MOVE, game.MoveRequest{Position: &bad}); ack.Kind != string(game.KindExhausted) {
		t.Fatalf("invalid coordinate should be Exhausted: %+v", ack)
	}

	if ack := f.handle(t, f.crew[0], "dance", nil); ack.OK {
		t.Fatalf("unknown command should fail")
	}
}

func TestImpostorMovePushesNearbyTargets(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	f.start(t)

	f.moveAll(t, basePos)

	if got := len(f.notifier.find(game.RESP_PLAYER_MOVED, "")); got != 4 {
		t.Fatalf("want 4 player-moved broadcasts, got %d", got)
	}

	pushed := f.notifier.find(game.RESP_NEARBY_TARGETS, f.impostor)
	if len(pushed) != 1 {
		t.Fatalf("impostor should get targets after moving, got %d", len(pushed))
	}

	targets := pushed[0].Data.(game.NearbyTargetsNotification).Targets
	if len(targets) != 3 {
		t.Fatalf("want 3 targets, got %+v", targets)
	}

	for _, id := range f.crew {
		if len(f.notifier.find(game.RESP_NEARBY_TARGETS, id)) != 0 {
			t.Fatalf("crewmate %s received targets", id)
		}
	}
}

func TestKillsEndGameAndTearDown(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	ctx := context.Background()
	f.start(t)
	f.moveAll(t, basePos)

	f.mustHandle(t, f.impostor, game.REQ_KILL, game.KillRequest{VictimID: f.crew[0]})

	kills := f.notifier.find(game.RESP_KILL_EVENT, "")
	if len(kills) != 1 {
		t.Fatalf("want one kill-event, got %d", len(kills))
	}

	if ev := kills[0].Data.(game.KillEventNotification); ev.VictimID != f.crew[0] || ev.Position != basePos {
		t.Fatalf("unexpected kill-event: %+v", ev)
	}

	f.mustHandle(t, f.impostor, game.REQ_KILL, game.KillRequest{VictimID: f.crew[1]})

	ended := f.notifier.find(game.RESP_ENDED, "")
	if len(ended) != 1 {
		t.Fatalf("want one ended broadcast, got %d", len(ended))
	}

	n := ended[0].Data.(game.EndedNotification)
	if n.Winner != game.RoleImpostor || n.Roles[f.impostor] != game.RoleImpostor || len(n.Roles) != 4 {
		t.Fatalf("unexpected ended payload: %+v", n)
	}

	if _, err := f.svc.Engine().Snapshot(ctx, f.code); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("session state should be deleted, got %v", err)
	}

	if room, _ := f.rooms.Lookup(f.code); room.Status != dto.STATUS_FINISHED {
		t.Fatalf("room should be finished, got %s", room.Status)
	}

	ack := f.handle(t, f.crew[2], game.REQ_MOVE, game.MoveRequest{Position: &basePos})
	if ack.OK || ack.Kind != string(game.KindNotFound) {
		t.Fatalf("commands after teardown should be NotFound: %+v", ack)
	}
}

func TestFailedKillBroadcastsNothing(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	f.start(t)

	f.mustHandle(t, f.impostor, game.REQ_MOVE, game.MoveRequest{Position: &basePos})
	f.mustHandle(t, f.crew[0], game.REQ_MOVE, game.MoveRequest{Position: &farPos})

	ack := f.handle(t, f.impostor, game.REQ_KILL, game.KillRequest{VictimID: f.crew[0]})
	if ack.OK || ack.Kind != string(game.KindPreconditionFailed) {
		t.Fatalf("out-of-range kill should fail: %+v", ack)
	}

	if len(f.notifier.find(game.RESP_KILL_EVENT, "")) != 0 {
		t.Fatalf("failed kill must not broadcast")
	}
}

func TestLastVoteResolvesMeeting(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	f.start(t)

	f.mustHandle(t, f.crew[0], game.REQ_EMERGENCY_MEETING, nil)

	if len(f.notifier.find(game.RESP_MEETING_STARTED, "")) != 1 {
		t.Fatalf("meeting-started not broadcast")
	}

	voters := append([]string{f.impostor}, f.crew...)
	for i, id := range voters {
		f.mustHandle(t, id, game.REQ_VOTE, game.VoteRequest{TargetID: game.VoteSkip})

		resolved := len(f.notifier.find(game.RESP_VOTE_RESULT, ""))
		if last := i == len(voters)-1; (resolved == 1) != last {
			t.Fatalf("after vote %d resolved=%d", i, resolved)
		}
	}

	res := f.notifier.find(game.RESP_VOTE_RESULT, "")[0].Data.(*game.Resolution)
	if res.Outcome != game.OutcomeSkipped {
		t.Fatalf("want skipped, got %s", res.Outcome)
	}

	if len(f.notifier.find(game.RESP_FREEPLAY_RESUMED, "")) != 1 {
		t.Fatalf("freeplay-resumed not broadcast")
	}
}

func TestEjectingImpostorEndsGame(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	f.start(t)

	f.mustHandle(t, f.crew[0], game.REQ_EMERGENCY_MEETING, nil)

	for _, id := range f.crew {
		f.mustHandle(t, id, game.REQ_VOTE, game.VoteRequest{TargetID: f.impostor})
	}
	f.mustHandle(t, f.impostor, game.REQ_VOTE, game.VoteRequest{})

	ended := f.notifier.find(game.RESP_ENDED, "")
	if len(ended) != 1 {
		t.Fatalf("want ended broadcast, got %d", len(ended))
	}

	n := ended[0].Data.(game.EndedNotification)
	if n.Winner != game.RoleCrewmate || n.Reason != REASON_IMPOSTOR_EJECTED {
		t.Fatalf("unexpected ended payload: %+v", n)
	}

	if len(f.notifier.find(game.RESP_FREEPLAY_RESUMED, "")) != 0 {
		t.Fatalf("freeplay must not resume after the game ended")
	}
}

func TestResolveVotesPermissions(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	f.start(t)

	nonHost := f.impostor
	if nonHost == "host" {
		nonHost = f.crew[0]
	}

	// 不在会议中时报阶段错误而不是权限错误
	ack := f.handle(t, nonHost, game.REQ_RESOLVE_VOTES, nil)
	if ack.OK || ack.Kind != string(game.KindInvalidPhase) {
		t.Fatalf("resolve outside a meeting should be InvalidPhase: %+v", ack)
	}

	f.mustHandle(t, f.crew[0], game.REQ_EMERGENCY_MEETING, nil)

	ack = f.handle(t, nonHost, game.REQ_RESOLVE_VOTES, nil)
	if ack.OK || ack.Kind != string(game.KindUnauthorized) {
		t.Fatalf("non-host early resolve should be Unauthorized: %+v", ack)
	}

	f.mustHandle(t, "host", game.REQ_RESOLVE_VOTES, nil)

	res := f.notifier.find(game.RESP_VOTE_RESULT, "")
	if len(res) != 1 || res[0].Data.(*game.Resolution).Outcome != game.OutcomeNoVotes {
		t.Fatalf("host resolve should produce no_votes: %+v", res)
	}
}

func TestSweepResolvesExpiredMeetings(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{MeetingDuration: time.Minute})
	ctx := context.Background()
	f.start(t)

	f.mustHandle(t, f.crew[0], game.REQ_EMERGENCY_MEETING, nil)
	f.mustHandle(t, f.crew[0], game.REQ_VOTE, game.VoteRequest{TargetID: f.crew[1]})

	if err := f.svc.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(f.notifier.find(game.RESP_VOTE_RESULT, "")) != 0 {
		t.Fatalf("meeting resolved before its deadline")
	}

	f.clock.Advance(time.Minute)

	if err := f.svc.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	results := f.notifier.find(game.RESP_VOTE_RESULT, "")
	if len(results) != 1 {
		t.Fatalf("want one resolution, got %d", len(results))
	}

	if res := results[0].Data.(*game.Resolution); res.EjectedID != f.crew[1] {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	if err := f.svc.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(f.notifier.find(game.RESP_VOTE_RESULT, "")) != 1 {
		t.Fatalf("sweep resolved the same meeting twice")
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	ctx := context.Background()
	f.start(t)

	user := f.crew[0]

	if err := f.svc.Connect(ctx, f.code, user, "s1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := f.svc.Connect(ctx, f.code, user, "s2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	if len(f.notifier.find(game.RESP_SNAPSHOT, user)) != 2 {
		t.Fatalf("each connect during a game should send a snapshot")
	}

	// 旧连接关闭不影响新连接
	if err := f.svc.Disconnect(ctx, f.code, user, "s1"); err != nil {
		t.Fatalf("stale disconnect: %v", err)
	}

	if len(f.notifier.find(game.RESP_PLAYER_DISCONNECTED, "")) != 0 {
		t.Fatalf("stale socket close should be ignored")
	}

	if err := f.svc.Disconnect(ctx, f.code, user, "s2"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	s, _ := f.svc.Engine().Snapshot(ctx, f.code)
	if p := s.Players[user]; !p.Disconnected || !p.Alive {
		t.Fatalf("disconnect should only flag the player: %+v", p)
	}

	if len(f.notifier.find(game.RESP_PLAYER_DISCONNECTED, "")) != 1 {
		t.Fatalf("player-disconnected not broadcast")
	}

	if err := f.svc.Connect(ctx, f.code, user, "s3"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	s, _ = f.svc.Engine().Snapshot(ctx, f.code)
	if s.Players[user].Disconnected {
		t.Fatalf("reconnect should clear the flag")
	}
}

func TestConnectInLobby(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	ctx := context.Background()

	if err := f.svc.Connect(ctx, f.code, "p1", "s1"); err != nil {
		t.Fatalf("connect in lobby: %v", err)
	}

	if len(f.notifier.find(game.RESP_SNAPSHOT, "p1")) != 0 {
		t.Fatalf("no snapshot before the game starts")
	}

	if err := f.svc.Connect(ctx, f.code, "stranger", "s9"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("want ErrNotMember, got %v", err)
	}
}

func TestTaskCompletionEndsGame(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{TotalTasks: 2})
	f.start(t)

	f.mustHandle(t, f.crew[0], game.REQ_TASK_COMPLETE, nil)
	f.mustHandle(t, f.crew[1], game.REQ_TASK_COMPLETE, nil)

	if got := len(f.notifier.find(game.RESP_TASK_PROGRESS, "")); got != 2 {
		t.Fatalf("want 2 task-progress broadcasts, got %d", got)
	}

	ended := f.notifier.find(game.RESP_ENDED, "")
	if len(ended) != 1 || ended[0].Data.(game.EndedNotification).Reason != REASON_TASKS_COMPLETED {
		t.Fatalf("tasks should end the game: %+v", ended)
	}
}

func TestQueryCommandsReplyToCaller(t *testing.T) {
	f := newSessionFixture(t, nil, game.Rules{})
	f.start(t)

	user := f.crew[0]

	f.mustHandle(t, user, game.REQ_GET_BODIES, nil)
	f.mustHandle(t, user, game.REQ_SNAPSHOT, nil)
	f.mustHandle(t, user, game.REQ_CHAT_HISTORY, nil)

	for _, respType := range []string{game.RESP_BODIES, game.RESP_SNAPSHOT, game.RESP_CHAT_HISTORY} {
		got := f.notifier.find(respType, user)
		if len(got) != 1 || got[0].RequestID == "" {
			t.Fatalf("%s should be a unicast reply carrying the request id: %+v", respType, got)
		}
	}

	ack := f.handle(t, user, game.REQ_CHAT, game.ChatRequest{Text: "hi"})
	if ack.OK || ack.Kind != string(game.KindInvalidPhase) {
		t.Fatalf("chat outside meeting should be InvalidPhase: %+v", ack)
	}
}
