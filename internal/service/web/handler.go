package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"proxyharvest/internal/shared/logger"
	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/model"
)

const maxRunsLimit = 200

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus 处理 GET /api/status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scheduler": s.ctrl.Status(),
		"last_run":  summarize(s.ctrl.Latest()),
	})
}

// recordFilter 把 type 查询参数转换为过滤函数。
// "http" 与 "socks" 对应 http.json / socks.json 的分组，其余取值按单一协议匹配。
func recordFilter(typ string) (func(model.ProxyRecord) bool, bool) {
	switch t := strings.ToLower(strings.TrimSpace(typ)); t {
	case "", "all":
		return func(model.ProxyRecord) bool { return true }, true
	case "http":
		return func(r model.ProxyRecord) bool { return r.Type.IsHTTP() }, true
	case "socks":
		return func(r model.ProxyRecord) bool { return r.Type.IsSOCKS() }, true
	default:
		p := model.ParseProtocol(t)
		if p == model.ProtocolUnknown && t != string(model.ProtocolUnknown) {
			return nil, false
		}
		return func(r model.ProxyRecord) bool { return r.Type == p }, true
	}
}

// handleProxies 处理 GET /api/proxies?type=&format=
func (s *Server) handleProxies(c *gin.Context) {
	filter, ok := recordFilter(c.Query("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown proxy type: " + c.Query("type")})
		return
	}

	records := []model.ProxyRecord{}
	if latest := s.ctrl.Latest(); latest != nil {
		for _, r := range latest.Records {
			if filter(r) {
				records = append(records, r)
			}
		}
	}

	if c.Query("format") == "text" {
		var sb strings.Builder
		for _, r := range records {
			sb.WriteString(r.Address())
			sb.WriteString("\n")
		}
		c.String(http.StatusOK, sb.String())
		return
	}
	c.JSON(http.StatusOK, records)
}

// handleListRuns 处理 GET /api/runs?limit=
func (s *Server) handleListRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		l := logger.WithComponent("Web")
		l.Error().Err(err).Msg("Failed to list runs.")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// handleTriggerRun 处理 POST /api/runs，立即开始一次运行
func (s *Server) handleTriggerRun(c *gin.Context) {
	l := logger.WithComponent("Web")
	l.Info().Str("client_ip", c.ClientIP()).Msg("Manual run requested.")
	switch err := s.ctrl.Trigger(); {
	case errors.Is(err, manager.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"started": false, "error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"started": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}
