package manager

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/extractor"
	"proxyharvest/proxypool/model"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrStopped       = errors.New("manager is stopped")
)

// Fetcher 抓取一组 URL，只返回成功的响应。
type Fetcher interface {
	Fetch(ctx context.Context, urls []string) []extractor.Payload
}

// Validator 对整批候选做一次存活检测。
type Validator interface {
	Validate(ctx context.Context, candidates []string) []model.ProxyRecord
}

// SourceResult 是单个来源在一次运行中的抓取与提取结果。
type SourceResult struct {
	Name       string           `json:"name"`
	Info       model.SourceInfo `json:"info"`
	Fetched    int              `json:"fetched"` // 成功抓取的 URL 数
	Candidates []string         `json:"candidates"`
	Skipped    bool             `json:"skipped,omitempty"` // 规则无效，未抓取
	Error      string           `json:"error,omitempty"`
}

// RunResult 是一次完整运行的结果。
type RunResult struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Sources    []SourceResult      `json:"sources"`
	Candidates int                 `json:"candidates"` // 合并去重后提交检测的候选数
	Records    []model.ProxyRecord `json:"records"`
}

// Duration returns how long the run took.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Working counts records with a positive liveness flag.
func (r *RunResult) Working() int {
	n := 0
	for _, rec := range r.Records {
		if rec.IsWorking() {
			n++
		}
	}
	return n
}

// Status 是调度器的运行状态快照。
type Status struct {
	Scheduled bool          `json:"scheduled"`
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	Sources   int           `json:"sources"`
	Cycles    int64         `json:"cycles"`
	NextRun   time.Time     `json:"next_run,omitempty"`
}

// Manager 是代理采集流程的总控制器：抓取、提取、合并、检测、去重。
// 在 serve 模式下它同时负责定时调度。
type Manager struct {
	fetcher   Fetcher
	validator Validator

	mu        sync.RWMutex
	latest    *RunResult
	sources   []model.SourceDescriptor
	listeners []func(*RunResult)
	interval  time.Duration
	nextRun   time.Time

	running atomic.Bool
	cycles  atomic.Int64

	// 调度器与生命周期管理
	ticker   *time.Ticker
	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager 创建采集管理器。
func NewManager(f Fetcher, v Validator) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetcher:   f,
		validator: v,
		ctx:       ctx,
		cancel:    cancel,
		stopChan:  make(chan struct{}),
	}
}

// Collect 并发处理所有来源，返回每个来源的候选列表，不做存活检测。
// 结果与 sources 顺序一致。规则无法编译的来源被记录一次并跳过。
func (m *Manager) Collect(ctx context.Context, sources []model.SourceDescriptor) []SourceResult {
	l := logger.WithComponent("ProxyPool/Manager")

	results := make([]SourceResult, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		results[i] = SourceResult{Name: src.Name(), Info: src.Info}

		ex, err := extractor.Compile(src.Rule)
		if err != nil {
			l.Error().Err(err).Str("source", src.Name()).Msg("Invalid extraction rule, source skipped.")
			results[i].Skipped = true
			results[i].Error = err.Error()
			continue
		}

		wg.Add(1)
		go func(i int, src model.SourceDescriptor, ex *extractor.Extractor) {
			defer wg.Done()
			payloads := m.fetcher.Fetch(ctx, src.URLs)

			var candidates []string
			for _, p := range payloads {
				candidates = append(candidates, ex.Extract(p)...)
			}
			results[i].Fetched = len(payloads)
			results[i].Candidates = candidates

			l.Info().
				Str("source", src.Name()).
				Int("urls", len(src.URLs)).
				Int("fetched", len(payloads)).
				Int("candidates", len(candidates)).
				Msg("Source collected.")
		}(i, src, ex)
	}
	wg.Wait()

	return results
}

// Merge 合并所有来源的候选并去重，保留首次出现的顺序。
func Merge(results []SourceResult) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, r := range results {
		for _, c := range r.Candidates {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			merged = append(merged, c)
		}
	}
	return merged
}

// Run 执行一次完整的采集：所有来源的候选合并后只调用一次 Validator，
// 检测结果按记录结构去重并按地址排序。
func (m *Manager) Run(ctx context.Context, sources []model.SourceDescriptor) *RunResult {
	l := logger.WithComponent("ProxyPool/Manager")

	res := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	l.Info().Str("run_id", res.RunID).Int("sources", len(sources)).Msg("Starting new collect and validate run...")

	res.Sources = m.Collect(ctx, sources)
	candidates := Merge(res.Sources)
	res.Candidates = len(candidates)

	records := model.Dedup(m.validator.Validate(ctx, candidates))
	SortRecords(records)
	res.Records = records
	res.FinishedAt = time.Now().UTC()

	l.Info().
		Str("run_id", res.RunID).
		Int("candidates", res.Candidates).
		Int("records", len(res.Records)).
		Dur("took", res.Duration()).
		Msg("Run finished.")
	return res
}

// SortRecords 按地址排序，同一地址再按协议与存活标记排序，保证输出可复现。
func SortRecords(records []model.ProxyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.IP != b.IP {
			return a.IP < b.IP
		}
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Key().Working > b.Key().Working
	})
}

// OnCycle 注册一个回调，每次调度运行结束后按注册顺序调用。
func (m *Manager) OnCycle(fn func(*RunResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Latest 返回最近一次完成的运行结果，可能为 nil。
func (m *Manager) Latest() *RunResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Seed 在首次运行之前用已有记录 (例如上次写出的文件) 填充 Latest。
func (m *Manager) Seed(records []model.ProxyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest != nil {
		return
	}
	m.latest = &RunResult{Records: records}
}

// Status 返回调度器状态。
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Scheduled: m.ticker != nil,
		Running:   m.running.Load(),
		Interval:  m.interval,
		Sources:   len(m.sources),
		Cycles:    m.cycles.Load(),
		NextRun:   m.nextRun,
	}
}

// Start 启动调度循环：立即运行一次，之后每隔 interval 运行一次。
func (m *Manager) Start(sources []model.SourceDescriptor, interval time.Duration) {
	l := logger.WithComponent("ProxyPool/Manager")
	l.Info().Msg("Manager starting...")

	m.mu.Lock()
	m.sources = sources
	m.interval = interval
	m.ticker = time.NewTicker(interval)
	m.nextRun = time.Now().Add(interval)
	m.mu.Unlock()

	l.Info().Dur("interval", interval).Int("sources", len(sources)).Msg("Scheduler initialized.")

	m.wg.Add(1)
	go m.schedulerLoop()

	m.Trigger()
}

// schedulerLoop 是核心的调度循环，监听 Ticker 和停止信号。
func (m *Manager) schedulerLoop() {
	defer m.wg.Done()
	l := logger.WithComponent("ProxyPool/Manager")

	for {
		select {
		case <-m.ticker.C:
			l.Info().Msg("Run ticker triggered.")
			m.mu.Lock()
			m.nextRun = time.Now().Add(m.interval)
			m.mu.Unlock()
			m.Trigger()

		case <-m.stopChan:
			l.Info().Msg("Stop signal received. Shutting down scheduler.")
			m.ticker.Stop()
			return
		}
	}
}

// Trigger 在后台启动一次运行。已有运行在进行中时返回 ErrRunInProgress，
// 调度器已停止时返回 ErrStopped。
func (m *Manager) Trigger() error {
	if !m.running.CompareAndSwap(false, true) {
		l := logger.WithComponent("ProxyPool/Manager")
		l.Warn().Msg("A run is already in progress, trigger ignored.")
		return ErrRunInProgress
	}
	select {
	case <-m.stopChan:
		m.running.Store(false)
		return ErrStopped
	default:
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.running.Store(false)
		m.runCycle()
	}()
	return nil
}

func (m *Manager) runCycle() {
	m.mu.RLock()
	sources := m.sources
	m.mu.RUnlock()

	res := m.Run(m.ctx, sources)
	if m.ctx.Err() != nil {
		l := logger.WithComponent("ProxyPool/Manager")
		l.Warn().Str("run_id", res.RunID).Msg("Run cancelled, result discarded.")
		return
	}
	m.cycles.Add(1)

	m.mu.Lock()
	m.latest = res
	listeners := append([]func(*RunResult){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
}

// Stop 优雅地停止调度器，并等待进行中的运行结束。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.cancel()
	})
	m.wg.Wait()
	logger.Info().Msg("ProxyPool Manager gracefully stopped.")
}
