package game

import (
	"errors"
	"fmt"
)

// 错误分类，全部是可预期、可恢复的本地错误
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NotFound"
	KindInvalidPhase       ErrorKind = "InvalidPhase"
	KindUnauthorized       ErrorKind = "Unauthorized"
	KindPreconditionFailed ErrorKind = "PreconditionFailed"
	KindExhausted          ErrorKind = "Exhausted"
)

// Error 是引擎返回的带分类的错误，可以用 errors.Is 与下面的哨兵比较
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}

	return e.Msg
}

// Is 让不带消息的哨兵按分类匹配，便于 errors.Is(err, ErrInvalidPhase)
// 带消息的错误只与自身相等
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Msg == "" && t.Kind == e.Kind
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidPhase       = &Error{Kind: KindInvalidPhase}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}
	ErrExhausted          = &Error{Kind: KindExhausted}
)

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

func invalidPhase(action string, phase Phase) *Error {
	return NewError(KindInvalidPhase, "cannot %s during %s phase", action, phase)
}

func unauthorized(format string, args ...any) *Error {
	return NewError(KindUnauthorized, format, args...)
}

func preconditionFailed(format string, args ...any) *Error {
	return NewError(KindPreconditionFailed, format, args...)
}

func exhausted(format string, args ...any) *Error {
	return NewError(KindExhausted, format, args...)
}

// KindOf 返回错误分类，非引擎错误返回空串
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}

	return ""
}
