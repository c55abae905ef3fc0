package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/betbot/gocopy/internal/controlplane/server"
	"github.com/betbot/gocopy/internal/forward"
	"github.com/betbot/gocopy/pkg/logger"
)

// runRelay 在跟单账户白名单主机上提供转发接口
func runRelay(args []string) error {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	listen := fs.String("listen", getenv("GOCOPY_RELAY_LISTEN", ":9090"), "HTTP listen address")
	token := fs.String("token", getenv("GOCOPY_RELAY_TOKEN", ""), "shared token the master signs bodies with")
	timeout := fs.Duration("timeout", 25*time.Second, "upstream request timeout")
	proxy := fs.String("proxy", getenv("GOCOPY_PROXY", ""), "outbound proxy URL")
	level := fs.String("log-level", getenv("LOG_LEVEL", "info"), "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return errors.New("token is required")
	}
	if err := logger.Init(logger.Config{Level: *level}); err != nil {
		return err
	}
	log := logger.Component("relay")

	srv := &http.Server{
		Addr:              *listen,
		Handler:           server.RelayRouter(*token, forward.NewDirect(*timeout, *proxy)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("relay listening on %s", *listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
