package game

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/geo"
)

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return data
}

func TestUnwrapData(t *testing.T) {
	req := RequestWrapper{
		ReqType: REQ_MOVE,
		Data:    mustMarshal(t, map[string]any{"position": map[string]float64{"lat": 1.5, "lng": -2}}),
	}

	move, err := UnwrapData[MoveRequest](req)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}

	if move.Position == nil || *move.Position != (geo.Position{Lat: 1.5, Lng: -2}) {
		t.Fatalf("unexpected position: %+v", move.Position)
	}

	_, err = UnwrapData[MoveRequest](RequestWrapper{ReqType: REQ_MOVE})
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("want ErrEmptyPayload, got %v", err)
	}

	_, err = UnwrapData[KillRequest](RequestWrapper{ReqType: REQ_KILL, Data: json.RawMessage(`{"victim_id":`)})
	if err == nil || !strings.Contains(err.Error(), REQ_KILL) {
		t.Fatalf("want decode error naming the command, got %v", err)
	}
}

func TestRequestEnvelopeIgnoresUserID(t *testing.T) {
	raw := []byte(`{"request_type":"vote","request_id":"r1","user_id":"spoofed","data":{"target_id":"c2"}}`)

	var req RequestWrapper
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}

	vote, err := UnwrapData[VoteRequest](req)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}

	if req.ReqType != REQ_VOTE || req.RequestID != "r1" || vote.TargetID != "c2" {
		t.Fatalf("unexpected request: %+v %+v", req, vote)
	}
}

func TestWrapErrAckCarriesKind(t *testing.T) {
	req := RequestWrapper{ReqType: REQ_KILL, RequestID: "r7"}

	resp := WrapErrAck(req, preconditionFailed("victim is too far away"))
	ack, ok := resp.Data.(Ack)
	if !ok {
		t.Fatalf("ack payload has type %T", resp.Data)
	}

	if resp.RespType != RESP_ACK || resp.RequestID != "r7" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}

	if ack.OK || ack.Command != REQ_KILL || ack.Kind != string(KindPreconditionFailed) {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	plain := WrapErrAck(req, errors.New("boom")).Data.(Ack)
	if plain.Kind != "" || plain.Message != "boom" {
		t.Fatalf("non-engine errors carry no kind: %+v", plain)
	}

	if ok := WrapAck(req).Data.(Ack); !ok.OK {
		t.Fatalf("WrapAck should be ok")
	}
}

func TestBuildSnapshotHidesOtherRoles(t *testing.T) {
	e, _ := newTestEngine(t, Rules{})
	startFourPlayers(t, e)

	if _, err := e.CompleteTask(context.Background(), testRoom, "c2"); err != nil {
		t.Fatalf("task: %v", err)
	}

	s := mustSnapshot(t, e)
	snap := BuildSnapshot(s, "c1")

	if snap.Role != RoleCrewmate || snap.Phase != PhaseFreeplay {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if len(snap.Players) != 4 || snap.Players[0].UserID != "imp" {
		t.Fatalf("players should follow member order: %+v", snap.Players)
	}

	if _, leaked := snap.Tasks.PerPlayer["c2"]; leaked {
		t.Fatalf("other players' task counters leaked: %v", snap.Tasks.PerPlayer)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if strings.Contains(string(data), string(RoleImpostor)) {
		t.Fatalf("snapshot for a crewmate mentions the impostor role: %s", data)
	}

	if roles := RolesOf(s); roles["imp"] != RoleImpostor || len(roles) != 4 {
		t.Fatalf("unexpected roles: %v", roles)
	}
}
