package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	client *resty.Client
}

type Option func(*resty.Client)

// WithTimeout 设置请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) {
		if d > 0 {
			c.SetTimeout(d)
		}
	}
}

func WithProxy(proxyURL string) Option {
	return func(c *resty.Client) {
		if proxyURL != "" {
			c.SetProxy(proxyURL)
		}
	}
}

// NewClient 创建以 host 为根地址的客户端。这里不做重试，
// 失败的调用等待下一轮或下一个事件
func NewClient(host string, opts ...Option) *Client {
	host = strings.TrimSuffix(host, "/")

	// resty 会读取环境变量 HTTP_PROXY / HTTPS_PROXY
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(defaultTimeout).
		SetRetryCount(0)
	for _, o := range opts {
		o(client)
	}
	return &Client{client: client}
}

type RequestOptions struct {
	Headers map[string]string
	Data    any
	Params  map[string]any
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "gocopy/1.0")
	return r
}

// DoRequest 发送请求。out 非空且响应为 2xx 时解码到 out，
// 非 2xx 响应返回 *HTTPError
func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	resp, err := c.Raw(ctx, method, endpoint, opt)
	if err != nil {
		return resp, err
	}
	if err := ParseHTTPError(resp); err != nil {
		return resp, err
	}
	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp, errors.Wrapf(err, "decode %s %s", method, endpoint)
		}
	}
	return resp, nil
}

// Raw 发送请求并返回响应（不检查状态码），
// 只有传输失败才返回错误
func (c *Client) Raw(ctx context.Context, method, endpoint string, opt *RequestOptions) (*resty.Response, error) {
	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		switch b := opt.Data.(type) {
		case nil:
		case []byte:
			if len(b) > 0 {
				rc.SetHeader("Content-Type", "application/json")
				rc.SetBody(b)
			}
		case string:
			if b != "" {
				rc.SetHeader("Content-Type", "application/json")
				rc.SetBody(b)
			}
		default:
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}

	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		resp, err = rc.Get(endpoint)
	case http.MethodPost:
		resp, err = rc.Post(endpoint)
	case http.MethodDelete:
		resp, err = rc.Delete(endpoint)
	case http.MethodPut:
		resp, err = rc.Put(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
	if err != nil {
		return resp, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	return resp, nil
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// HTTPError 非 2xx 响应
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("http %d: %s", e.Status, body)
}

func (e *HTTPError) HTTPStatus() int { return e.Status }

// ParseHTTPError 2xx 返回 nil，否则返回 *HTTPError
func ParseHTTPError(resp *resty.Response) error {
	if resp == nil || resp.IsSuccess() {
		return nil
	}
	return errors.WithStack(&HTTPError{Status: resp.StatusCode(), Body: string(resp.Body())})
}
