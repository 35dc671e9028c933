package types

// CommonConf 包含路径相关的配置
type CommonConf struct {
	SourcesDir     string `ini:"sources_dir"`
	OutputDir      string `ini:"output_dir"`
	StatisticsPath string `ini:"statistics_path"`
}

// FetchConf 控制来源抓取
type FetchConf struct {
	TimeoutSeconds int `ini:"timeout_seconds"` // 0 表示使用传输层默认值
}

// ValidatorConf 控制存活检测
type ValidatorConf struct {
	Backend        string `ini:"backend"` // "onlinecheck" (默认) 或 "direct"
	Endpoint       string `ini:"endpoint"`
	TimeoutSeconds int    `ini:"timeout_seconds"`
	KeepDead       bool   `ini:"keep_dead"`
	Concurrency    int    `ini:"concurrency"` // 仅 direct 后端使用
	Target         string `ini:"target"`      // 仅 direct 后端使用, host:port
}

// ScheduleConf 控制 serve 模式下的周期运行
type ScheduleConf struct {
	IntervalMinutes int `ini:"interval_minutes"`
}

// WebConf 包含状态 API 的配置
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// HistoryConf 指定运行历史数据库
type HistoryConf struct {
	Driver string `ini:"driver"` // "sqlite" (默认) 或 "mysql"
	Path   string `ini:"path"`   // SQLite 文件路径或 MySQL DSN, 为空时不记录历史
	Keep   int    `ini:"keep"`   // 最多保留的运行数, 0 表示不清理
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config 是 harvest.ini 的统一配置结构体
type Config struct {
	CommonConf    `ini:"common"`
	FetchConf     `ini:"fetch"`
	ValidatorConf `ini:"validator"`
	ScheduleConf  `ini:"schedule"`
	WebConf       `ini:"web"`
	HistoryConf   `ini:"history"`
	LogConf       `ini:"log"`
}
