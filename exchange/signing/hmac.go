// Package signing 请求头认证类交易所的 HMAC 签名
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BuildSignature 对 path||METHOD||timestamp||nonce||body 做 HMAC-SHA256，
// 摘要先转 hex，再对 hex 文本做 base64
func BuildSignature(secret, method, path, timestamp, nonce string, body []byte) string {
	var b strings.Builder
	b.Grow(len(path) + len(method) + len(timestamp) + len(nonce) + len(body))
	b.WriteString(path)
	b.WriteString(strings.ToUpper(method))
	b.WriteString(timestamp)
	b.WriteString(nonce)
	b.Write(body)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	hexDigest := hex.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(hexDigest))
}

// Signature 单次请求的签名结果
type Signature struct {
	Sign      string
	Timestamp string
	Nonce     string
}

// Signer 为请求生成时间戳和 nonce。零值可直接使用，
// 测试时可替换 Now 和 NewNonce
type Signer struct {
	Now      func() time.Time
	NewNonce func() string
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Signer) nonce() string {
	if s.NewNonce != nil {
		return s.NewNonce()
	}
	return uuid.NewString()
}

// Sign 签名单个请求。GET 请求用毫秒时间戳作为 nonce，
// 其他方法使用随机 nonce
func (s Signer) Sign(secret, method, path string, body []byte) Signature {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	nonce := ts
	if !strings.EqualFold(method, http.MethodGet) {
		nonce = s.nonce()
	}
	return Signature{
		Sign:      BuildSignature(secret, method, path, ts, nonce, body),
		Timestamp: ts,
		Nonce:     nonce,
	}
}
