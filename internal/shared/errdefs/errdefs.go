// Package errdefs 定义联邦市场的领域错误分类
//
// 所有业务层错误都归入这里的哨兵错误，HTTP 层据此映射状态码。
// 底层基于 containerd errdefs 的错误分类语义，通过 errors.Is 判定。
package errdefs

import (
	"errors"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
)

var (
	// ErrNotFound 实体不存在（Agent、Task、Package、Barter 等）
	ErrNotFound = cerrdefs.ErrNotFound

	// ErrAlreadyAudited 知识包已进入或完成审计，不允许重复审计
	ErrAlreadyAudited = fmt.Errorf("package already audited: %w", cerrdefs.ErrAlreadyExists)

	// ErrUnauthorized 调用方不是该操作的合法参与者
	ErrUnauthorized = cerrdefs.ErrPermissionDenied

	// ErrInvalidState 状态机不允许从当前状态执行该迁移
	ErrInvalidState = fmt.Errorf("invalid state transition: %w", cerrdefs.ErrFailedPrecondition)

	// ErrInsufficientBalance 账户余额不足以支付本次扣减
	ErrInsufficientBalance = fmt.Errorf("insufficient balance: %w", cerrdefs.ErrFailedPrecondition)

	// ErrFairnessViolation 易货双方估值差超过容忍阈值且未确认
	ErrFairnessViolation = fmt.Errorf("fairness violation: %w", cerrdefs.ErrFailedPrecondition)

	// ErrValidation 输入参数校验失败
	ErrValidation = cerrdefs.ErrInvalidArgument
)

// NotFoundf 构造带上下文的 ErrNotFound
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Invalidf 构造带上下文的 ErrValidation
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// InvalidStatef 构造带上下文的 ErrInvalidState
func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

// Unauthorizedf 构造带上下文的 ErrUnauthorized
func Unauthorizedf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnauthorized)...)
}

// IsNotFound 判断是否为"不存在"类错误
func IsNotFound(err error) bool {
	return errors.Is(err, cerrdefs.ErrNotFound)
}

// IsValidation 判断是否为参数校验错误
func IsValidation(err error) bool {
	return errors.Is(err, cerrdefs.ErrInvalidArgument)
}

// IsInvalidState 判断是否为非法状态迁移错误
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsUnauthorized 判断是否为越权操作错误
func IsUnauthorized(err error) bool {
	return errors.Is(err, cerrdefs.ErrPermissionDenied)
}
