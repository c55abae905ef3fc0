package main

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/gocopy/exchange"
	"github.com/betbot/gocopy/internal/controlplane/server"
	"github.com/betbot/gocopy/internal/dedup"
	"github.com/betbot/gocopy/internal/differ"
	"github.com/betbot/gocopy/internal/dispatch"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/engine"
	"github.com/betbot/gocopy/internal/forward"
	"github.com/betbot/gocopy/internal/journal"
	"github.com/betbot/gocopy/internal/metrics"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/internal/risk"
	"github.com/betbot/gocopy/internal/source"
	"github.com/betbot/gocopy/pkg/config"
	"github.com/betbot/gocopy/pkg/kvstore"
	"github.com/betbot/gocopy/pkg/logger"
	"github.com/betbot/gocopy/pkg/shutdown"
)

const eventBuffer = 256

// eventSource 持续产生仓位变动事件，直到 ctx 结束
type eventSource interface {
	Run(ctx context.Context, out chan<- domain.TransitionEvent) error
}

type app struct {
	cfg      *config.Config
	log      *logrus.Entry
	shutdown *shutdown.Manager

	source eventSource
	engine *engine.Engine
	status *server.Server
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      logger.Component("app"),
		shutdown: shutdown.NewManager(),
	}

	store, err := kvstore.Open(kvstore.OpenOptions{Path: filepath.Join(cfg.DataDir, "badger")})
	if err != nil {
		return nil, err
	}
	a.shutdown.OnShutdown(func(context.Context) {
		if err := store.Close(); err != nil {
			a.log.Warnf("close kvstore: %v", err)
		}
	})
	seen := dedup.New(cfg.DedupTTL, dedup.WithStore(store))

	j, err := journal.Open(filepath.Join(cfg.DataDir, "journal.db"))
	if err != nil {
		return nil, err
	}
	a.shutdown.OnShutdown(func(context.Context) {
		if err := j.Close(); err != nil {
			a.log.Warnf("close journal: %v", err)
		}
	})

	direct := forward.NewDirect(cfg.FollowerTimeout, cfg.Proxy)
	router, routes := buildRouter(cfg, direct)

	masterCred := cfg.Master.Credential()
	masterOpts := exchangeOptions(cfg, cfg.Master, direct)
	master, err := exchange.NewClient(masterCred, masterOpts)
	if err != nil {
		return nil, errors.Wrap(err, "master")
	}

	followers := make([]dispatch.Follower, 0, len(cfg.Followers))
	infos := make([]server.FollowerInfo, 0, len(cfg.Followers))
	for _, fc := range cfg.Followers {
		cred := fc.Credential()
		client, err := exchange.NewClient(cred, exchangeOptions(cfg, fc, router.For(fc.ID)))
		if err != nil {
			return nil, errors.Wrapf(err, "follower %s", fc.ID)
		}
		f := dispatch.NewFollower(cred, client)
		if cfg.DryRun {
			f.Client = dispatch.NewDryRun(client, fc.ID)
		}
		followers = append(followers, f)
		infos = append(infos, server.FollowerInfo{
			ID:             fc.ID,
			Name:           fc.Name,
			Exchange:       fc.Exchange,
			SizeMultiplier: fc.SizeMultiplier.String(),
			SlippageLimit:  fc.SlippageLimit.String(),
			Route:          routes[fc.ID],
		})
	}

	board := risk.NewBoard(risk.CircuitBreakerConfig{MaxConsecutiveErrors: cfg.MaxConsecutiveErrors})
	d := dispatch.New(masterCred, followers,
		dispatch.WithTimeout(cfg.FollowerTimeout),
		dispatch.WithBreakers(board),
	)

	hub := server.NewHub()
	a.status = server.New(server.Config{
		Addr:      cfg.StatusAddr,
		Mode:      cfg.Mode,
		Master:    masterCred.Label(),
		DryRun:    cfg.DryRun,
		Followers: infos,
	}, j, board, hub)

	a.engine = engine.New(d,
		engine.WithBarrier(engine.Barrier(cfg.Barrier)),
		engine.WithSinks(j, hub),
	)

	switch cfg.Mode {
	case config.ModePoll:
		a.source = source.NewPoller(master, differ.NewPollDiffer(cfg.QtyEpsilon), source.PollerConfig{
			Interval:     cfg.PollInterval,
			Symbol:       cfg.Symbol,
			ContractType: cfg.ContractType,
		})
	default:
		session, err := exchange.NewSession(masterCred, master, masterOpts)
		if err != nil {
			return nil, errors.Wrap(err, "master stream")
		}
		a.source = source.NewStreamer(session, differ.NewStreamDiffer(seen), source.StreamerConfig{
			BackoffMin: cfg.BackoffMin,
			BackoffMax: cfg.BackoffMax,
		})
	}
	return a, nil
}

// buildRouter 将与中继主机配对的跟单账户绑定到对应中继，
// 返回每个跟单账户的路由标签
func buildRouter(cfg *config.Config, direct *forward.Direct) (*forward.Router, map[string]string) {
	servers := make([]forward.Server, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, forward.Server{
			Name:  s.Name,
			Host:  s.Host,
			Port:  s.Port,
			User:  s.User,
			Key:   s.KeyPath,
			Token: s.Token,
		})
	}

	router := forward.NewRouter(direct)
	routes := make(map[string]string, len(cfg.Followers))
	paired, unpaired := forward.Pair(cfg.FollowerCredentials(), servers)
	for _, p := range paired {
		if p.Server == nil {
			routes[p.Follower.AccountID] = "direct"
			continue
		}
		relay := forward.NewRelay(p.Server.BaseURL(), p.Server.Token, cfg.FollowerTimeout)
		router.Bind(p.Follower.AccountID, relay)
		routes[p.Follower.AccountID] = "relay:" + p.Server.Name
	}
	if len(servers) > 0 {
		for _, f := range unpaired {
			logger.Component("forward").Warnf("follower %s has no relay server, sending direct", f.Label())
		}
	}
	return router, routes
}

func exchangeOptions(cfg *config.Config, acct config.AccountConfig, exec ports.Executor) exchange.Options {
	return exchange.Options{
		RESTURL:      acct.RESTURL,
		WSURL:        acct.WSURL,
		OAuthURL:     acct.OAuthURL,
		Exec:         exec,
		Proxy:        cfg.Proxy,
		PingInterval: cfg.PingInterval,
	}
}

// Run 启动服务、事件源和引擎，
// 阻塞直到 ctx 结束或其中之一失败
func (a *app) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.StatusAddr != "" {
		if _, err := a.status.Start(ctx); err != nil {
			return err
		}
	}
	if a.cfg.MetricsAddr != "" {
		srv, err := metrics.StartAsync(ctx, a.cfg.MetricsAddr)
		if err != nil {
			return errors.Wrap(err, "metrics")
		}
		a.log.Infof("metrics on %s", srv.Addr)
	}

	events := make(chan domain.TransitionEvent, eventBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		return a.source.Run(gctx, events)
	})
	g.Go(func() error {
		return a.engine.Run(gctx, events)
	})

	a.log.Infof("copying %s in %s mode", a.cfg.Master.ID, a.cfg.Mode)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
