package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrAuth             = errors.New("auth rejected")
	ErrResolution       = errors.New("not resolved")
	ErrNetwork          = errors.New("network error")
	ErrTimeout          = errors.New("timeout")
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrNoPosition       = errors.New("no open position")
	ErrSelfFollow       = errors.New("follower is the master account")
	ErrBelowLotSize     = errors.New("quantity below lot size")
)

// Reason 将错误映射为分发结果中的简短原因标签
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage-exceeded"
	case errors.Is(err, ErrNoPosition):
		return "no-position"
	case errors.Is(err, ErrSelfFollow):
		return "self-follow"
	case errors.Is(err, ErrBelowLotSize):
		return "below-lot-size"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNetwork):
		return "network"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	return "error"
}

// IsSkip 判断是否为业务规则跳过（不算失败，无需告警）
func IsSkip(err error) bool {
	return errors.Is(err, ErrSlippageExceeded) || errors.Is(err, ErrSelfFollow) || errors.Is(err, ErrBelowLotSize)
}

type statusCoder interface {
	HTTPStatus() int
}

// HTTPStatus 提取错误携带的 HTTP 状态码，没有则返回 0
func HTTPStatus(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// Classify 为传输层错误打上对应的分类哨兵错误
// 已带哨兵错误的原样返回
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range []error{ErrAuth, ErrResolution, ErrNetwork, ErrTimeout, ErrNoPosition, ErrSlippageExceeded} {
		if errors.Is(err, s) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if isCodecError(err) {
		return err
	}
	switch st := HTTPStatus(err); {
	case st == 401 || st == 403:
		return fmt.Errorf("%w: %w", ErrAuth, err)
	case st > 0:
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// isCodecError JSON 编解码失败，不属于传输故障
func isCodecError(err error) bool {
	var (
		syntax      *json.SyntaxError
		typ         *json.UnmarshalTypeError
		marshaler   *json.MarshalerError
		unsupported *json.UnsupportedTypeError
		value       *json.UnsupportedValueError
	)
	return errors.As(err, &syntax) || errors.As(err, &typ) || errors.As(err, &marshaler) ||
		errors.As(err, &unsupported) || errors.As(err, &value)
}

// NoChangeNeeded 识别"设置已生效、无需修改"类的交易所拒绝回复
func NoChangeNeeded(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no need to change") ||
		strings.Contains(m, "not modified") ||
		strings.Contains(m, "no change") ||
		strings.Contains(m, "already")
}
