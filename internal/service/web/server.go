package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/history"
)

// Controller 是 web 层对采集管理器的依赖，便于与具体实现解耦。
type Controller interface {
	Latest() *manager.RunResult
	Status() manager.Status
	Trigger() error
}

// RunHistory 提供历史运行查询，可以为 nil (未启用历史库)。
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*history.Run, error)
}

type Server struct {
	cfg     types.WebConf
	ctrl    Controller
	runs    RunHistory
	hub     *Hub
	httpSrv *http.Server
}

func NewServer(cfg types.WebConf, ctrl Controller, runs RunHistory, hub *Hub) *Server {
	return &Server{
		cfg:  cfg,
		ctrl: ctrl,
		runs: runs,
		hub:  hub,
	}
}

// Router 返回配置好的 HTTP 路由器
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// 日志中间件
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l := logger.WithComponent("Web")
		l.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request served.")
	})

	// 公开的健康检查、状态与推送
	r.GET("/healthz", s.handleHealth)
	r.GET("/api/status", s.handleStatus)
	r.GET("/ws", func(c *gin.Context) {
		ServeWs(s.hub, c.Writer, c.Request)
	})

	// 用户名或密码未设置时不启用认证
	api := r.Group("/api")
	if s.cfg.User != "" && s.cfg.Password != "" {
		api.Use(gin.BasicAuth(gin.Accounts{s.cfg.User: s.cfg.Password}))
	}
	api.GET("/proxies", s.handleProxies)
	api.GET("/runs", s.handleListRuns)
	api.POST("/runs", s.handleTriggerRun)

	return r
}

// Start 在后台启动监听。Port 为 0 时不启动。
func (s *Server) Start(wg *sync.WaitGroup) error {
	l := logger.WithComponent("Web")
	if s.cfg.Port <= 0 {
		l.Info().Msg("Status API is disabled (port is 0 or not set).")
		return nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	l.Info().Msgf("Status API is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("Web server error.")
		}
		l.Info().Msg("Web server stopped.")
	}()
	return nil
}

// Shutdown 优雅关闭 HTTP 服务。
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
