package forward

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/pkg/logger"
	sdkhttp "github.com/betbot/gocopy/pkg/sdk/http"
)

const (
	// SignHeader 中继请求的签名头，值为 hex HMAC-SHA256(token, body)
	SignHeader = "X-Master-Sign"
	RelayPath  = "/forward"
)

type relayEnvelope struct {
	Method  string            `json:"method"`
	BaseURL string            `json:"baseUrl"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

type relayReply struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
	Error  string `json:"error,omitempty"`
}

func bodySign(token, body []byte) string {
	mac := hmac.New(sha256.New, token)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Relay 将已签名请求交给其他主机上的中继进程重放。
// 中继通过共享 token 校验主控方
type Relay struct {
	host   string
	token  []byte
	client *sdkhttp.Client
}

func NewRelay(baseURL, token string, timeout time.Duration) *Relay {
	return &Relay{
		host:   baseURL,
		token:  []byte(token),
		client: sdkhttp.NewClient(baseURL, sdkhttp.WithTimeout(timeout)),
	}
}

func (r *Relay) Host() string { return r.host }

func (r *Relay) Execute(ctx context.Context, req ports.SignedRequest) (ports.Response, error) {
	raw, err := json.Marshal(relayEnvelope(req))
	if err != nil {
		return ports.Response{}, errors.Wrap(err, "encode relay request")
	}
	var reply relayReply
	_, err = r.client.DoRequest(ctx, http.MethodPost, RelayPath, &sdkhttp.RequestOptions{
		Headers: map[string]string{SignHeader: bodySign(r.token, raw)},
		Data:    raw,
	}, &reply)
	if err != nil {
		return ports.Response{}, errors.Wrapf(err, "relay %s", r.host)
	}
	if reply.Error != "" {
		return ports.Response{}, errors.Errorf("relay %s: %s", r.host, reply.Error)
	}
	return ports.Response{Status: reply.Status, Body: reply.Body}, nil
}

// RelayHandler Relay 的接收端：校验签名后
// 使用 exec 执行请求
func RelayHandler(token string, exec ports.Executor) gin.HandlerFunc {
	key := []byte(token)
	log := logger.Component("relay")
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "relay token not configured"})
			return
		}
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		got := c.GetHeader(SignHeader)
		if !hmac.Equal([]byte(got), []byte(bodySign(key, raw))) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid master signature"})
			return
		}
		var env relayEnvelope
		if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := exec.Execute(c.Request.Context(), ports.SignedRequest(env))
		if err != nil {
			log.WithError(err).Warnf("forward %s %s failed", env.Method, env.Path)
			c.JSON(http.StatusOK, relayReply{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, relayReply{Status: resp.Status, Body: resp.Body})
	}
}
