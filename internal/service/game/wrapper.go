package game

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 客户端命令类型
const (
	REQ_START             = "start"
	REQ_MOVE              = "move"
	REQ_KILL              = "kill"
	REQ_REPORT_BODY       = "report-body"
	REQ_EMERGENCY_MEETING = "emergency-meeting"
	REQ_VOTE              = "vote"
	REQ_RESOLVE_VOTES     = "resolve-votes"
	REQ_CHAT              = "chat"
	REQ_CHAT_HISTORY      = "chat-history"
	REQ_TASK_COMPLETE     = "task-complete"
	REQ_GET_BODIES        = "get-bodies"
	REQ_NEARBY_TARGETS    = "nearby-targets"
	REQ_SNAPSHOT          = "snapshot"
)

// RequestWrapper 是客户端发来的命令信封
// 注意：信封里不携带操作者身份，身份只来自已认证的连接
type RequestWrapper struct {
	ReqType   string          `json:"request_type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

var ErrEmptyPayload = errors.New("request payload is empty")

// UnwrapData 把命令负载解码为具体的请求结构
func UnwrapData[T any](wrapper RequestWrapper) (*T, error) {
	var req T

	if len(wrapper.Data) == 0 {
		return nil, ErrEmptyPayload
	}

	if err := json.Unmarshal(wrapper.Data, &req); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", wrapper.ReqType, err)
	}

	return &req, nil
}

// 服务器推送的事件类型
const (
	RESP_ACK = "ack"

	RESP_STARTED             = "started"
	RESP_ROLE                = "role"
	RESP_PLAYER_MOVED        = "player-moved"
	RESP_KILL_EVENT          = "kill-event"
	RESP_MEETING_STARTED     = "meeting-started"
	RESP_VOTE_UPDATE         = "vote-update"
	RESP_VOTE_RESULT         = "vote-result"
	RESP_FREEPLAY_RESUMED    = "freeplay-resumed"
	RESP_ENDED               = "ended"
	RESP_CHAT_MESSAGE        = "chat-message"
	RESP_CHAT_HISTORY        = "chat-history"
	RESP_TASK_PROGRESS       = "task-progress"
	RESP_NEARBY_TARGETS      = "nearby-targets"
	RESP_BODIES              = "bodies"
	RESP_SNAPSHOT            = "snapshot"
	RESP_PLAYER_CONNECTED    = "player-connected"
	RESP_PLAYER_DISCONNECTED = "player-disconnected"
)

type ResponseWrapper struct {
	RespType  string `json:"response_type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	ErrMsg    string `json:"error_message,omitempty"`
}

func WrapResponse(respType string, data any) ResponseWrapper {
	return ResponseWrapper{
		RespType: respType,
		Data:     data,
	}
}

// Ack 是每条命令的确认
type Ack struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func WrapAck(req RequestWrapper) ResponseWrapper {
	return ResponseWrapper{
		RespType:  RESP_ACK,
		RequestID: req.RequestID,
		Data: Ack{
			Command: req.ReqType,
			OK:      true,
		},
	}
}

// WrapErrAck 把错误转换成失败确认，引擎错误会带上分类
func WrapErrAck(req RequestWrapper, err error) ResponseWrapper {
	return ResponseWrapper{
		RespType:  RESP_ACK,
		RequestID: req.RequestID,
		Data: Ack{
			Command: req.ReqType,
			OK:      false,
			Kind:    string(KindOf(err)),
			Message: err.Error(),
		},
		ErrMsg: err.Error(),
	}
}
