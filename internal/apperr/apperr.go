// Package apperr 统一业务错误类型。核心服务只返回这四类错误，
// handler 层据此映射HTTP状态码，不向客户端泄漏内部细节。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	KindValidation Kind = iota + 1 // 输入不合法（负数量、日期区间颠倒、必填为空）
	KindNotFound                   // 引用的部品/标签/单据不存在
	KindPermission                 // 操作人无权执行当前操作
	KindConflict                   // 状态机前置条件不满足（阶段不符、重复使用）
)

// Error 带类别的业务错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation 创建输入校验错误
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound 创建未找到错误
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Permission 创建权限错误
func Permission(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// Conflict 创建状态冲突错误
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Wrap 保留类别并附加底层错误
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 取错误类别，非业务错误返回0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind 判断错误是否属于指定类别
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
