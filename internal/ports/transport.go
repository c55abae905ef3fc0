package ports

import (
	"context"

	"github.com/betbot/gocopy/internal/domain"
)

// SignedRequest 已完成认证的 HTTP 请求，
// Path 包含参与签名的原始查询串
type SignedRequest struct {
	Method  string
	BaseURL string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Response 交易所原始响应
type Response struct {
	Status int
	Body   []byte
}

// Executor 以指定主机的身份执行已签名请求
type Executor interface {
	Execute(ctx context.Context, req SignedRequest) (Response, error)
}

// Session 一个已认证的推送会话。Close 后可再次 Open 开启新会话，
// Next 阻塞直到收到订单事件
type Session interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) ([]domain.OrderEvent, error)
	Close() error
}

// OutcomeSink 接收每次分发的结果
type OutcomeSink interface {
	Record(ctx context.Context, report domain.DispatchReport) error
}
