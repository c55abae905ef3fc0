// Package exchange 按名称创建交易所适配器
package exchange

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/gocopy/exchange/binance"
	"github.com/betbot/gocopy/exchange/bitruth"
	"github.com/betbot/gocopy/exchange/blockfin"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/ports"
)

// Options 账户级的地址覆盖与传输配置
type Options struct {
	RESTURL  string
	WSURL    string
	OAuthURL string
	// Exec 发送已签名的 REST 请求，blockfin 和 bitruth 必填
	Exec         ports.Executor
	Proxy        string
	PingInterval time.Duration
}

// ErrUnsupported 未知交易所
var ErrUnsupported = errors.New("unsupported exchange")

// Names 支持的交易所列表
func Names() []string {
	return []string{blockfin.Name, bitruth.Name, binance.Name}
}

// NewClient 创建 cred.Exchange 对应的 REST 适配器
func NewClient(cred domain.Credential, opts Options) (ports.Exchange, error) {
	switch strings.ToLower(cred.Exchange) {
	case blockfin.Name:
		if opts.Exec == nil {
			return nil, errors.New("blockfin: executor is required")
		}
		return blockfin.NewClient(cred, opts.Exec, blockfin.WithBaseURL(opts.RESTURL)), nil
	case bitruth.Name:
		if opts.Exec == nil {
			return nil, errors.New("bitruth: executor is required")
		}
		return bitruth.NewClient(cred, opts.Exec, bitruth.WithBaseURL(opts.RESTURL), bitruth.WithOAuthURL(opts.OAuthURL)), nil
	case binance.Name:
		return binance.NewClient(cred, binance.WithBaseURL(opts.RESTURL)), nil
	}
	return nil, errors.Wrapf(ErrUnsupported, "%q", cred.Exchange)
}

// NewSession 创建主账户订单推送会话，
// client 必须是同一凭证经 NewClient 创建的适配器
func NewSession(cred domain.Credential, client ports.Exchange, opts Options) (ports.Session, error) {
	switch strings.ToLower(cred.Exchange) {
	case blockfin.Name:
		return blockfin.NewStream(cred, blockfin.StreamConfig{
			URL:          opts.WSURL,
			PingInterval: opts.PingInterval,
			ProxyURL:     opts.Proxy,
		}), nil
	case binance.Name:
		bc, ok := client.(*binance.Client)
		if !ok {
			return nil, errors.New("binance: session needs a binance client")
		}
		return binance.NewStream(bc), nil
	case bitruth.Name:
		return nil, errors.Wrap(ErrUnsupported, "bitruth has no order stream, poll instead")
	}
	return nil, errors.Wrapf(ErrUnsupported, "%q", cred.Exchange)
}
