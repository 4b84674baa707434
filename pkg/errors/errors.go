package errors

import (
	"errors"
	"fmt"
)

// AppError 同步引擎错误类型
// 后台同步路径只记录日志，前台用户操作把它返回给发起的视图
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "内部错误"
}

// IsBackground 判断错误是否属于后台同步类（只记录日志，不提示用户）
func IsBackground(err error) bool {
	switch GetCode(err) {
	case CodeTransportUnavailable, CodeFetchFailed, CodePermissionDenied:
		return true
	}
	return false
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 后台同步 20000-20999
	CodeTransportUnavailable = 20001
	CodeFetchFailed          = 20002
	CodePermissionDenied     = 20003

	// 前台操作 21000-21999
	CodeSendFailed     = 21001
	CodeDeleteFailed   = 21002
	CodeSettingsFailed = 21003
	CodeMarkReadFailed = 21004

	// 参数与状态 22000-22999
	CodeInvalidParams        = 22001
	CodeConversationNotFound = 22002
	CodeEngineStopped        = 22003

	// 系统错误 50000-50999
	CodeInternal = 50001
)

// ============== 预定义错误 ==============

// 后台同步
var (
	ErrTransportUnavailable = NewError(CodeTransportUnavailable, "推送通道不可用")
	ErrFetchFailed          = NewError(CodeFetchFailed, "拉取失败")
	ErrPermissionDenied     = NewError(CodePermissionDenied, "通知权限被拒绝")
)

// 前台操作
var (
	ErrSendFailed     = NewError(CodeSendFailed, "消息发送失败")
	ErrDeleteFailed   = NewError(CodeDeleteFailed, "删除会话失败")
	ErrSettingsFailed = NewError(CodeSettingsFailed, "更新会话设置失败")
	ErrMarkReadFailed = NewError(CodeMarkReadFailed, "标记已读失败")
)

// 参数与状态
var (
	ErrInvalidParams        = NewError(CodeInvalidParams, "参数校验失败")
	ErrConversationNotFound = NewError(CodeConversationNotFound, "会话不存在")
	ErrEngineStopped        = NewError(CodeEngineStopped, "同步引擎已停止")
)

// 系统相关
var (
	ErrInternal = NewError(CodeInternal, "内部错误")
)
