package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/taoyao-code/regbridge/internal/config"
)

// Server HTTP 服务封装：健康检查、Prometheus 指标与只读状态查询
type Server struct {
	srv *http.Server
}

// New 创建并配置 Gin + HTTP Server。
// statusFn 返回桥接器当前运行状态（计数、最近客户端等），挂在 /api/v1/status；
// healthFn 返回各组件健康报告，挂在 /api/v1/health。
func New(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler,
	readyFn func() bool, statusFn func() any, healthFn func(ctx context.Context) any,
) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if readyFn == nil || readyFn() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}
	if statusFn != nil {
		r.GET("/api/v1/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, statusFn())
		})
	}
	if healthFn != nil {
		r.GET("/api/v1/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, healthFn(c.Request.Context()))
		})
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv}
}

// Start 启动 HTTP 服务（阻塞）
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
