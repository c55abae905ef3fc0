package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gocopy/exchange"
	"github.com/betbot/gocopy/internal/forward"
	"github.com/betbot/gocopy/pkg/config"
)

func TestBuildRouterBindsPairedFollowers(t *testing.T) {
	cfg := &config.Config{
		FollowerTimeout: time.Second,
		Followers: []config.AccountConfig{
			{ID: "f1", Exchange: "blockfin"},
			{ID: "f2", Exchange: "bitruth"},
		},
		Servers: []config.ServerConfig{
			{Name: "f1", Host: "10.0.0.5", Port: 9090, Token: "t"},
			{Name: "spare", Host: "10.0.0.6"},
		},
	}
	direct := forward.NewDirect(time.Second, "")

	router, routes := buildRouter(cfg, direct)

	assert.Equal(t, "relay:f1", routes["f1"])
	assert.Equal(t, "direct", routes["f2"])

	relay, ok := router.For("f1").(*forward.Relay)
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.5:9090", relay.Host())
	assert.Same(t, direct, router.For("f2"))
}

func TestBuildRouterWithoutServers(t *testing.T) {
	cfg := &config.Config{Followers: []config.AccountConfig{{ID: "f1"}}}
	direct := forward.NewDirect(time.Second, "")

	router, routes := buildRouter(cfg, direct)
	assert.Equal(t, "direct", routes["f1"])
	assert.Same(t, direct, router.For("f1"))
}

func TestExchangeOptionsCarryAccountEndpoints(t *testing.T) {
	cfg := &config.Config{Proxy: "http://proxy:3128", PingInterval: 25 * time.Second}
	acct := config.AccountConfig{Endpoints: config.Endpoints{RESTURL: "http://rest", WSURL: "ws://ws", OAuthURL: "http://oauth"}}
	direct := forward.NewDirect(time.Second, "")

	opts := exchangeOptions(cfg, acct, direct)
	assert.Equal(t, exchange.Options{
		RESTURL:      "http://rest",
		WSURL:        "ws://ws",
		OAuthURL:     "http://oauth",
		Exec:         direct,
		Proxy:        "http://proxy:3128",
		PingInterval: 25 * time.Second,
	}, opts)
}
