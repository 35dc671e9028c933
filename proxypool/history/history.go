package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"proxyharvest/internal/shared/logger"
	manager "proxyharvest/proxypool"
)

var ErrNoRuns = errors.New("no runs recorded")

// 支持的数据库驱动
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Run 是一次采集运行的汇总记录
type Run struct {
	ID         string      `gorm:"primaryKey;size:36" json:"id"`
	StartedAt  time.Time   `gorm:"index:idx_runs_started" json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	DurationMs int64       `gorm:"column:duration_ms" json:"duration_ms"`
	Candidates int         `json:"candidates"`
	Records    int         `json:"records"`
	Working    int         `json:"working"`
	Sources    []RunSource `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"sources,omitempty"`
}

// TableName 指定表名
func (Run) TableName() string {
	return "runs"
}

// RunSource 记录单个来源在某次运行中的计数
type RunSource struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	RunID      string `gorm:"size:36;index:idx_run_sources_run" json:"-"`
	Name       string `gorm:"size:255" json:"name"`
	Fetched    int    `json:"fetched"`
	Candidates int    `json:"candidates"`
	Skipped    bool   `json:"skipped"`
	Error      string `gorm:"type:text" json:"error,omitempty"`
}

func (RunSource) TableName() string {
	return "run_sources"
}

// Store 封装 GORM 数据库连接
type Store struct {
	gorm *gorm.DB
}

// Open 打开 (或创建) 历史库并迁移表结构。
// driver 为空时使用 SQLite，dsn 为文件路径，可为 ":memory:"；MySQL 的 dsn 为标准 go-sql-driver 格式。
func Open(driver, dsn string, debug bool) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if debug {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	gormDB, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("打开历史数据库失败: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接失败: %w", err)
	}
	if strings.EqualFold(driver, DriverMySQL) {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// SQLite 只支持一个写入连接；内存库在多连接下也不共享数据
		sqlDB.SetMaxOpenConns(1)
		if !strings.HasPrefix(dsn, ":memory:") {
			if err := gormDB.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
				l := logger.WithComponent("ProxyPool/History")
				l.Warn().Err(err).Msg("Failed to enable WAL mode.")
			}
		}
	}

	if err := gormDB.AutoMigrate(&Run{}, &RunSource{}); err != nil {
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}
	return &Store{gorm: gormDB}, nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	sqlDB, err := s.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordRun 在一个事务中写入运行汇总及其来源计数。
func (s *Store) RecordRun(ctx context.Context, res *manager.RunResult) error {
	run := &Run{
		ID:         res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		DurationMs: res.Duration().Milliseconds(),
		Candidates: res.Candidates,
		Records:    len(res.Records),
		Working:    res.Working(),
	}
	for _, src := range res.Sources {
		run.Sources = append(run.Sources, RunSource{
			RunID:      res.RunID,
			Name:       src.Name,
			Fetched:    src.Fetched,
			Candidates: len(src.Candidates),
			Skipped:    src.Skipped,
			Error:      src.Error,
		})
	}

	return s.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
}

// ListRuns 按开始时间倒序返回最近 limit 次运行。
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*Run
	err := s.gorm.WithContext(ctx).
		Preload("Sources").
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// LatestRun 返回最近一次运行，没有记录时返回 ErrNoRuns。
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	err := s.gorm.WithContext(ctx).Preload("Sources").Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Prune 只保留最近 keep 次运行。
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var ids []string
	err := s.gorm.WithContext(ctx).Model(&Run{}).
		Order("started_at DESC").
		Pluck("id", &ids).Error
	if err != nil || len(ids) <= keep {
		return 0, err
	}
	cutoff := ids[keep:]

	var deleted int64
	err = s.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id IN ?", cutoff).Delete(&RunSource{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", cutoff).Delete(&Run{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}
