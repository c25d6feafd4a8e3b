package errcode

import (
	"errors"
	"fmt"
)

// 错误码约定：
// - 0：无错误
// - 4xxx：调用方可感知的问题（输入非法、资源缺失、任务过期）
// - 5xxx：系统错误（需要中断任务）
const (
	OK              = 0
	InvalidInput    = 4000
	ResourceMissing = 4004
	JobExpired      = 4100
	SystemError     = 5000
)

// Kind 对导致任务失败的错误进行分类。
type Kind int

const (
	KindUnknown Kind = iota
	// KindInput：订单不存在、没有照片或图层数据无法解析，任务不会开始。
	KindInput
	// KindResource：输出目录、压缩包或对象存储失败，任务以 error 结束。
	KindResource
	// KindJobState：继续一个不存在或已过期的任务。
	KindJobState
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindResource:
		return "resource"
	case KindJobState:
		return "job_state"
	default:
		return "unknown"
	}
}

// Error 是带分类的任务级错误。
type Error struct {
	Kind Kind
	Code int
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Input 将 err 包装为输入错误。
func Input(op string, err error) error {
	return &Error{Kind: KindInput, Code: InvalidInput, Op: op, Err: err}
}

// Resource 将 err 包装为资源错误。
func Resource(op string, err error) error {
	return &Error{Kind: KindResource, Code: SystemError, Op: op, Err: err}
}

// JobState 将 err 包装为任务状态错误。
func JobState(op string, err error) error {
	return &Error{Kind: KindJobState, Code: JobExpired, Op: op, Err: err}
}

// KindOf 返回错误链中第一个分类错误的类型。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf 返回 err 对应的错误码，未分类的错误视为 SystemError。
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return SystemError
}
