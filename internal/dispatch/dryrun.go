package dispatch

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/pkg/logger"
)

// DryRun 读操作透传，写操作只打日志
type DryRun struct {
	ports.Exchange
	log *logrus.Entry
}

func NewDryRun(inner ports.Exchange, follower string) *DryRun {
	return &DryRun{
		Exchange: inner,
		log:      logger.Component("dry-run").WithFields(logrus.Fields{"follower": follower, "exchange": inner.Name()}),
	}
}

func (d *DryRun) SetMarginMode(_ context.Context, symbol string, setting domain.MarginSetting, contractType string) error {
	d.log.Infof("set margin %s %s %s x%d", symbol, contractType, setting.Mode, setting.Leverage)
	return nil
}

func (d *DryRun) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Result, error) {
	d.log.Infof("place %s %s qty=%s market=%v", req.Side, req.Symbol, req.Quantity, req.Market)
	return domain.Result{Raw: "dry-run"}, nil
}

func (d *DryRun) ClosePosition(_ context.Context, req domain.CloseRequest) (domain.Result, error) {
	d.log.Infof("close %s %s qty=%s", req.Side, req.Symbol, req.Quantity)
	return domain.Result{Raw: "dry-run"}, nil
}
