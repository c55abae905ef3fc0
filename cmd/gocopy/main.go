package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/pkg/config"
	"github.com/betbot/gocopy/pkg/logger"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// .env 可选，真实环境变量优先
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "relay" {
		if err := runRelay(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "relay: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", getenv("GOCOPY_CONFIG", "yml/config.yaml"), "config file (.yaml, .yml or .json)")
	dryRun := flag.Bool("dry-run", false, "log follower orders instead of sending them")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	logrus.Infof("config %s: mode=%s master=%s/%s followers=%d dryRun=%v",
		*configPath, cfg.Mode, cfg.Master.Exchange, cfg.Master.ID, len(cfg.Followers), cfg.DryRun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		logrus.Errorf("startup: %v", err)
		os.Exit(1)
	}

	runErr := a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !a.shutdown.Shutdown(shutdownCtx) {
		logrus.Warn("shutdown timed out")
	}

	if runErr != nil {
		logrus.Errorf("stopped: %v", runErr)
		os.Exit(1)
	}
	logrus.Info("stopped")
}
