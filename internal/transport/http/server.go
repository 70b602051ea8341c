package transporthttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sigflow/internal/audit"
	"sigflow/internal/logger"
	"sigflow/internal/market"
	"sigflow/internal/types"
)

// SignalSink 接收入站信号并异步处理。
// Submit 返回 false 表示队列已满，信号被丢弃。
type SignalSink interface {
	Submit(sig types.Signal) bool
}

// Server 提供信号 webhook 入口与只读状态接口。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr  string
	Sink  SignalSink
	Gate  *market.Gate
	Audit *audit.Store
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Sink == nil {
		return nil, errors.New("http server requires a signal sink")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	registerSignalRoutes(api, cfg.Sink)
	registerStatusRoutes(api, cfg.Gate, cfg.Audit)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// requestLogger 记录接口调用，便于追踪外部告警源的推送。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, status, client, dur)
	}
}

func registerStatusRoutes(group *gin.RouterGroup, gate *market.Gate, auditStore *audit.Store) {
	group.GET("/status", func(c *gin.Context) {
		resp := gin.H{"ts": time.Now().UnixMilli()}
		if gate != nil {
			resp["market"] = gate.Current()
		}
		c.JSON(http.StatusOK, resp)
	})
	group.GET("/audit/recent", func(c *gin.Context) {
		if auditStore == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
			return
		}
		records, err := auditStore.Recent(c.Request.Context(), c.Query("instrument"), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})
}
