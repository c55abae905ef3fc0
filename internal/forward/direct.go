// Package forward 执行已签名的交易所请求：从本机直接发出，
// 或经由部署在跟单账户白名单 IP 上的中继转发
package forward

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/gocopy/internal/ports"
	sdkhttp "github.com/betbot/gocopy/pkg/sdk/http"
)

// Direct 从本机直接发送
type Direct struct {
	timeout time.Duration
	proxy   string

	mu      sync.Mutex
	clients map[string]*sdkhttp.Client
}

func NewDirect(timeout time.Duration, proxy string) *Direct {
	return &Direct{timeout: timeout, proxy: proxy, clients: make(map[string]*sdkhttp.Client)}
}

func (d *Direct) client(base string) *sdkhttp.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[base]
	if !ok {
		c = sdkhttp.NewClient(base, sdkhttp.WithTimeout(d.timeout), sdkhttp.WithProxy(d.proxy))
		d.clients[base] = c
	}
	return c
}

func (d *Direct) Execute(ctx context.Context, req ports.SignedRequest) (ports.Response, error) {
	opt := &sdkhttp.RequestOptions{Headers: req.Headers}
	if len(req.Body) > 0 {
		opt.Data = req.Body
	}
	resp, err := d.client(req.BaseURL).Raw(ctx, req.Method, req.Path, opt)
	if err != nil {
		return ports.Response{}, err
	}
	return ports.Response{Status: resp.StatusCode(), Body: resp.Body()}, nil
}
