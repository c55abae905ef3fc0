// Package server 状态 API：健康检查、历史结果、跟单账户状态、
// WebSocket 实时结果推送，以及中继主机上的转发接口
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/internal/forward"
	"github.com/betbot/gocopy/internal/journal"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/internal/risk"
	"github.com/betbot/gocopy/pkg/logger"
)

// History 结果日志的读接口
type History interface {
	Recent(ctx context.Context, followerID string, limit int) ([]journal.Entry, error)
	Stats(ctx context.Context) ([]journal.Stats, error)
}

// FollowerInfo 跟单账户的对外视图，不包含任何密钥
type FollowerInfo struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Exchange       string     `json:"exchange"`
	SizeMultiplier string     `json:"sizeMultiplier"`
	SlippageLimit  string     `json:"slippageLimit"`
	Route          string     `json:"route"`
	Breaker        risk.State `json:"breaker"`
}

type Config struct {
	Addr      string
	Mode      string
	Master    string
	DryRun    bool
	Followers []FollowerInfo
}

type Server struct {
	cfg      Config
	history  History
	breakers *risk.Board
	hub      *Hub
	started  time.Time
	log      *logrus.Entry
	http     *http.Server
}

func New(cfg Config, history History, breakers *risk.Board, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		cfg:      cfg,
		history:  history,
		breakers: breakers,
		hub:      hub,
		started:  time.Now(),
		log:      logger.Component("status"),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.GET("/outcomes", s.handleOutcomes)
	api.GET("/stats", s.handleStats)
	api.GET("/followers", s.handleFollowers)
	api.POST("/followers/:id/resume", s.handleResume)

	r.GET("/ws", s.hub.Handler())
	return r
}

// Start 启动服务直到 ctx 结束
func (s *Server) Start(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", errors.Wrapf(err, "listen %s", s.cfg.Addr)
	}
	s.http = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()
	s.log.Infof("status api on %s", ln.Addr())
	return ln.Addr().String(), nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"mode":    s.cfg.Mode,
		"master":  s.cfg.Master,
		"dryRun":  s.cfg.DryRun,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"clients": s.hub.Clients(),
	})
}

func (s *Server) handleOutcomes(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	rows, err := s.history.Recent(ctx, strings.TrimSpace(c.Query("follower")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []journal.Entry{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleStats(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	stats, err := s.history.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if stats == nil {
		stats = []journal.Stats{}
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleFollowers(c *gin.Context) {
	states := s.breakers.States()
	out := make([]FollowerInfo, 0, len(s.cfg.Followers))
	for _, f := range s.cfg.Followers {
		f.Breaker = states[f.ID]
		out = append(out, f)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleResume(c *gin.Context) {
	id := c.Param("id")
	if !s.breakers.Resume(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no breaker for follower"})
		return
	}
	s.log.WithField("follower", id).Info("resumed")
	c.JSON(http.StatusOK, gin.H{"resumed": id})
}

// RelayRouter 仅提供转发接口，运行在中继主机上
func RelayRouter(token string, exec ports.Executor) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST(forward.RelayPath, forward.RelayHandler(token, exec))
	return r
}
