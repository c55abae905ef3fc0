package source

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/internal/differ"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/metrics"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/pkg/logger"
)

const (
	DefaultBackoffMin = time.Second
	DefaultBackoffMax = 30 * time.Second
)

// StreamerConfig 重连退避的上下限
type StreamerConfig struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Streamer 保持推送会话并将订单更新交给 StreamDiffer，
// 断线后指数退避重连
type Streamer struct {
	session ports.Session
	differ  *differ.StreamDiffer
	cfg     StreamerConfig
	log     *logrus.Entry

	// sleep 等待 d 或 ctx 结束，测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

func NewStreamer(session ports.Session, d *differ.StreamDiffer, cfg StreamerConfig) *Streamer {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = DefaultBackoffMax
	}
	return &Streamer{
		session: session,
		differ:  d,
		cfg:     cfg,
		log:     logger.Component("streamer"),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newBackOff(initial, ceiling time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Run 保持会话直到 ctx 结束，正常停止返回 nil
func (s *Streamer) Run(ctx context.Context, out chan<- domain.TransitionEvent) error {
	b := newBackOff(s.cfg.BackoffMin, s.cfg.BackoffMax)
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.session.Open(ctx)
		if err == nil {
			b.Reset()
			s.log.Info("session open")
			err = s.listen(ctx, out)
			if cerr := s.session.Close(); cerr != nil {
				s.log.Debugf("close: %v", cerr)
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		if errors.Is(err, domain.ErrAuth) {
			s.log.Errorf("session rejected: %v; retrying in %s", err, wait)
		} else {
			s.log.Warnf("session ended: %v; reconnecting in %s", err, wait)
		}
		metrics.Reconnects.Add(1)
		if s.sleep(ctx, wait) != nil {
			return nil
		}
	}
}

func (s *Streamer) listen(ctx context.Context, out chan<- domain.TransitionEvent) error {
	for {
		batch, err := s.session.Next(ctx)
		if err != nil {
			return err
		}
		dups := s.differ.Duplicates
		events := s.differ.ObserveAll(batch)
		if n := s.differ.Duplicates - dups; n > 0 {
			metrics.DedupHits.Add(int64(n))
			s.log.Debugf("%d replayed updates dropped", n)
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
