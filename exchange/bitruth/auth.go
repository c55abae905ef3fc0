package bitruth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/ports"
	sdkhttp "github.com/betbot/gocopy/pkg/sdk/http"
)

const (
	DefaultOAuthURL = "https://p-api.bitruth.com/api/v1/oauth/token"

	clientID         = 7
	defaultExpiresIn = 3600
)

type tokenRequest struct {
	ClientID     int    `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Scope        string `json:"scope"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

type tokenReply struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// tokenSource 单个账户的 bearer token，刷新期间调用方阻塞等待
type tokenSource struct {
	cred     domain.Credential
	oauthURL string
	exec     ports.Executor
	now      func() time.Time

	mu       sync.Mutex
	token    string
	expiryMs int64
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	if s.token != "" && s.expiryMs > nowMs {
		return s.token, nil
	}

	body, err := json.Marshal(tokenRequest{
		ClientID:     clientID,
		ClientSecret: s.cred.ClientSecret,
		GrantType:    "password",
		Scope:        "*",
		Username:     s.cred.Username,
		Password:     s.cred.Password,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode token request")
	}
	u, err := url.Parse(s.oauthURL)
	if err != nil {
		return "", errors.Wrap(err, "oauth url")
	}
	resp, err := s.exec.Execute(ctx, ports.SignedRequest{
		Method:  http.MethodPost,
		BaseURL: u.Scheme + "://" + u.Host,
		Path:    u.RequestURI(),
		Headers: map[string]string{"Accept": "application/json"},
		Body:    body,
	})
	if err != nil {
		return "", domain.Classify(errors.Wrap(err, "oauth token"))
	}
	if resp.Status < 200 || resp.Status >= 300 {
		herr := &sdkhttp.HTTPError{Status: resp.Status, Body: string(resp.Body)}
		if resp.Status == http.StatusBadRequest {
			return "", errors.Wrapf(domain.ErrAuth, "oauth token: %v", herr)
		}
		return "", domain.Classify(herr)
	}
	var tr tokenReply
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", errors.Wrap(err, "decode oauth token")
	}
	if tr.AccessToken == "" {
		return "", errors.Wrap(domain.ErrAuth, "oauth token: empty access_token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = defaultExpiresIn
	}
	s.token = tr.AccessToken
	s.expiryMs = nowMs + tr.ExpiresIn*1000
	return s.token, nil
}

// Invalidate 丢弃 token，下次调用重新登录
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiryMs = 0
	s.mu.Unlock()
}
