package signing

import "net/http"

const loginPath = "/users/self/verify"

// AccessHeaders ACCESS-* 请求头
type AccessHeaders struct {
	Key        string
	Passphrase string
	Sign       string
	Timestamp  string
	Nonce      string
}

func NewAccessHeaders(apiKey, passphrase string, sig Signature) AccessHeaders {
	return AccessHeaders{
		Key:        apiKey,
		Passphrase: passphrase,
		Sign:       sig.Sign,
		Timestamp:  sig.Timestamp,
		Nonce:      sig.Nonce,
	}
}

func (h AccessHeaders) Map() map[string]string {
	m := map[string]string{
		"ACCESS-KEY":       h.Key,
		"ACCESS-SIGN":      h.Sign,
		"ACCESS-TIMESTAMP": h.Timestamp,
		"ACCESS-NONCE":     h.Nonce,
	}
	if h.Passphrase != "" {
		m["ACCESS-PASSPHRASE"] = h.Passphrase
	}
	return m
}

// LoginArg WebSocket 登录帧的参数
type LoginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase,omitempty"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
	Nonce      string `json:"nonce"`
}

// Login 为 WebSocket 登录签名（GET /users/self/verify，无 body）
func (s Signer) Login(apiKey, secret, passphrase string) LoginArg {
	sig := s.Sign(secret, http.MethodGet, loginPath, nil)
	return LoginArg{
		APIKey:     apiKey,
		Passphrase: passphrase,
		Timestamp:  sig.Timestamp,
		Sign:       sig.Sign,
		Nonce:      sig.Nonce,
	}
}
