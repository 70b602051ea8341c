package app

import (
	"context"
	"fmt"

	"sigflow/internal/audit"
	sfcfg "sigflow/internal/config"
	"sigflow/internal/judgelog"
	"sigflow/internal/logger"
	"sigflow/internal/scheduler"
	transporthttp "sigflow/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动入口与后台刷新。
type App struct {
	cfg        *sfcfg.Config
	stack      *MarketStack
	queue      *SignalQueue
	httpServer *transporthttp.Server
	auditStore *audit.Store
	judgeLog   *judgelog.Store
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *sfcfg.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, cfgPath)
}

// Run 启动 HTTP 入口、信号消费与行情刷新，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return a.queue.Run(ctx)
	})

	group.Go(func() error {
		sched := scheduler.NewIntervalScheduler(ctx, a.stack.Refresh)
		sched.RunImmediately = true
		sched.Start(func() {
			a.stack.Gate.Refresh(ctx)
		})
		return nil
	})

	logger.Infof("✓ sigflow 启动完成: http=%s env=%s", a.httpServer.Addr(), a.cfg.App.Env)
	return group.Wait()
}

func (a *App) close() {
	if a.judgeLog != nil {
		if err := a.judgeLog.Close(); err != nil {
			logger.Warnf("关闭 judge log 失败: %v", err)
		}
	}
	if a.auditStore != nil {
		if err := a.auditStore.Close(); err != nil {
			logger.Warnf("关闭审计库失败: %v", err)
		}
	}
}
