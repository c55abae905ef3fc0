package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expected(secret, preimage string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(preimage))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac.Sum(nil))))
}

func TestBuildSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	got := BuildSignature("s3cr3t", "post", "/x", "1700000000000", "n-1", body)
	assert.Equal(t, expected("s3cr3t", `/xPOST1700000000000n-1{"a":1}`), got)

	t.Run("deterministic", func(t *testing.T) {
		again := BuildSignature("s3cr3t", "POST", "/x", "1700000000000", "n-1", body)
		assert.Equal(t, got, again)
	})

	t.Run("any input change alters the signature", func(t *testing.T) {
		assert.NotEqual(t, got, BuildSignature("s3cr3t", "GET", "/x", "1700000000000", "n-1", body))
		assert.NotEqual(t, got, BuildSignature("s3cr3t", "POST", "/y", "1700000000000", "n-1", body))
		assert.NotEqual(t, got, BuildSignature("s3cr3t", "POST", "/x", "1700000000000", "n-1", []byte(`{"a":2}`)))
	})

	t.Run("hex text is base64 encoded, not the raw digest", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(got)
		require.NoError(t, err)
		assert.Len(t, raw, 64)
		_, err = hex.DecodeString(string(raw))
		assert.NoError(t, err)
	})
}

func TestSignerNonce(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	s := Signer{
		Now:      func() time.Time { return fixed },
		NewNonce: func() string { return "fresh" },
	}

	get := s.Sign("k", "GET", "/api/v1/account/positions?instId=BTC-USDT", nil)
	assert.Equal(t, "1700000000123", get.Timestamp)
	assert.Equal(t, get.Timestamp, get.Nonce)
	assert.Equal(t, expected("k", "/api/v1/account/positions?instId=BTC-USDTGET17000000001231700000000123"), get.Sign)

	post := s.Sign("k", "POST", "/api/v1/trade/order", []byte(`{}`))
	assert.Equal(t, "fresh", post.Nonce)
	assert.Equal(t, expected("k", "/api/v1/trade/orderPOST1700000000123fresh{}"), post.Sign)
}

func TestSignerDefaultNonceIsRandom(t *testing.T) {
	var s Signer
	a := s.Sign("k", "POST", "/x", nil)
	b := s.Sign("k", "POST", "/x", nil)
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestLogin(t *testing.T) {
	fixed := time.UnixMilli(42)
	arg := Signer{Now: func() time.Time { return fixed }}.Login("key", "sec", "pp")
	assert.Equal(t, "key", arg.APIKey)
	assert.Equal(t, "pp", arg.Passphrase)
	assert.Equal(t, "42", arg.Nonce)
	assert.Equal(t, expected("sec", "/users/self/verifyGET4242"), arg.Sign)

	h := NewAccessHeaders("key", "", Signature{Sign: "s", Timestamp: "1", Nonce: "2"}).Map()
	_, hasPass := h["ACCESS-PASSPHRASE"]
	assert.False(t, hasPass)
	assert.Equal(t, "s", h["ACCESS-SIGN"])
}
