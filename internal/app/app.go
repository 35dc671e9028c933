package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"proxyharvest/internal/service/web"
	"proxyharvest/internal/shared/config"
	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/fetcher"
	"proxyharvest/proxypool/history"
	"proxyharvest/proxypool/model"
	"proxyharvest/proxypool/stats"
	"proxyharvest/proxypool/storage"
	"proxyharvest/proxypool/validator"
)

// App 把各组件按配置组装起来，供 CLI 的各个子命令使用。
type App struct {
	cfg   *types.Config
	debug bool

	validator *validator.Validator
	manager   *manager.Manager
	storage   storage.Storage
	history   *history.Store // 未配置 [history] path 时为 nil
	hub       *web.Hub

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// New 根据配置创建 App。历史库只在配置了路径时打开。
func New(cfg *types.Config, debug bool) (*App, error) {
	identity := fetcher.DefaultIdentity()

	checker, err := newChecker(cfg.ValidatorConf, identity)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		debug:     debug,
		validator: validator.NewValidator(checker, cfg.KeepDead),
		storage:   storage.NewFileStorage(cfg.OutputDir),
		hub:       web.NewHub(),
	}
	f := fetcher.New(identity, seconds(cfg.FetchConf.TimeoutSeconds))
	a.manager = manager.NewManager(f, a.validator)

	if cfg.HistoryConf.Path != "" {
		if err := ensureSQLiteDir(cfg.HistoryConf); err != nil {
			return nil, err
		}
		store, err := history.Open(cfg.HistoryConf.Driver, cfg.HistoryConf.Path, debug)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		a.history = store
	}
	return a, nil
}

func newChecker(cfg types.ValidatorConf, identity fetcher.Identity) (validator.Checker, error) {
	timeout := seconds(cfg.TimeoutSeconds)
	switch strings.ToLower(cfg.Backend) {
	case "", "onlinecheck":
		return validator.NewOnlineChecker(cfg.Endpoint, timeout, identity), nil
	case "direct":
		return validator.NewDirectChecker(timeout, cfg.Concurrency, cfg.Target), nil
	default:
		return nil, fmt.Errorf("unknown validator backend %q", cfg.Backend)
	}
}

func ensureSQLiteDir(cfg types.HistoryConf) error {
	if d := strings.ToLower(cfg.Driver); d != "" && d != history.DriverSQLite {
		return nil
	}
	if strings.HasPrefix(cfg.Path, ":memory:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return fmt.Errorf("failed to create history dir: %w", err)
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// LoadSources 加载配置目录中的来源描述文件。
func (a *App) LoadSources() ([]model.SourceDescriptor, error) {
	return config.LoadSources(a.cfg.SourcesDir)
}

// RunOnce 执行一次完整采集并写出产物文件与历史记录。
func (a *App) RunOnce(ctx context.Context) (*manager.RunResult, error) {
	sources, err := a.LoadSources()
	if err != nil {
		return nil, err
	}

	res := a.manager.Run(ctx, sources)
	// 被中断的运行结果不完整，不能覆盖上一次的产物
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run %s interrupted: %w", res.RunID, err)
	}
	if err := a.storage.Save(res.Records); err != nil {
		return res, fmt.Errorf("failed to save output: %w", err)
	}
	a.recordHistory(ctx, res)
	return res, nil
}

// Stats 对每个来源统计候选的存活情况并写出 STATISTICS.md。
// 所有来源的候选合并后只做一次保留失效条目的检测。
func (a *App) Stats(ctx context.Context) (*stats.Report, error) {
	sources, err := a.LoadSources()
	if err != nil {
		return nil, err
	}

	results := a.manager.Collect(ctx, sources)
	records := a.validator.WithRetainDead(true).Validate(ctx, manager.Merge(results))
	report := stats.Compute(results, records)

	if err := stats.Write(a.cfg.StatisticsPath, report); err != nil {
		return report, err
	}
	logger.Info().Str("path", a.cfg.StatisticsPath).Int("sources", len(report.Sources)).Msg("Statistics written.")
	return report, nil
}

// Serve 启动定时采集与状态 API，直到 ctx 结束。
func (a *App) Serve(ctx context.Context) error {
	sources, err := a.LoadSources()
	if err != nil {
		return err
	}

	if previous, err := a.storage.Load(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load previous output, starting empty.")
	} else {
		a.manager.Seed(previous)
	}

	a.manager.OnCycle(func(res *manager.RunResult) {
		if err := a.storage.Save(res.Records); err != nil {
			logger.Error().Err(err).Str("run_id", res.RunID).Msg("Failed to save output after run.")
		}
	})
	a.manager.OnCycle(func(res *manager.RunResult) {
		a.recordHistory(context.Background(), res)
	})
	a.manager.OnCycle(a.hub.BroadcastRunFinished)

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go a.hub.Run(hubCtx) // 启动 Hub

	var runs web.RunHistory
	if a.history != nil {
		runs = a.history
	}
	webServer := web.NewServer(a.cfg.WebConf, a.manager, runs, a.hub)
	if err := webServer.Start(&a.waitGroup); err != nil {
		return err
	}

	interval := time.Duration(a.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	a.manager.Start(sources, interval)

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Web server shutdown error.")
	}
	a.Stop()
	a.waitGroup.Wait()
	return nil
}

// Stop 停止调度并关闭历史库。
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.manager.Stop()
		if a.history != nil {
			if err := a.history.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close run history.")
			}
		}
	})
}

func (a *App) recordHistory(ctx context.Context, res *manager.RunResult) {
	if a.history == nil {
		return
	}
	l := logger.WithComponent("ProxyPool/History")
	if err := a.history.RecordRun(ctx, res); err != nil {
		l.Error().Err(err).Str("run_id", res.RunID).Msg("Failed to record run.")
		return
	}
	if pruned, err := a.history.Prune(ctx, a.cfg.HistoryConf.Keep); err != nil {
		l.Warn().Err(err).Msg("Failed to prune run history.")
	} else if pruned > 0 {
		l.Debug().Int64("pruned", pruned).Msg("Old runs pruned.")
	}
}
