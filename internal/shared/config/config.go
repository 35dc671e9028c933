package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
	"proxyharvest/proxypool/model"
)

// Default 返回未加载任何文件时使用的配置。
func Default() *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{
			SourcesDir:     "sources",
			OutputDir:      "proxies",
			StatisticsPath: "STATISTICS.md",
		},
		FetchConf: types.FetchConf{
			TimeoutSeconds: 30,
		},
		ValidatorConf: types.ValidatorConf{
			Backend:        "onlinecheck",
			Endpoint:       "https://api.proxyscrape.com/v4/online_check",
			TimeoutSeconds: 120,
			Concurrency:    50,
			Target:         "www.google.com:443",
		},
		ScheduleConf: types.ScheduleConf{
			IntervalMinutes: 60,
		},
		WebConf: types.WebConf{
			Port: 8088,
		},
		HistoryConf: types.HistoryConf{
			Driver: "sqlite",
			Keep:   500,
		},
		LogConf: types.LogConf{
			Level: "info",
		},
	}
}

// LoadIni 加载 harvest.ini 行为配置文件。文件中未出现的键保持 cfg 原值。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	ApplyEnv(cfg)
	return nil
}

// ApplyEnv 用环境变量覆盖配置。
func ApplyEnv(cfg *types.Config) {
	overrideFromEnv(&cfg.ValidatorConf.Endpoint, "HARVEST_CHECK_ENDPOINT")
	overrideFromEnv(&cfg.LogConf.Level, "HARVEST_LOG_LEVEL")
	overrideFromEnvInt(&cfg.WebConf.Port, "HARVEST_WEB_PORT")
	overrideFromEnv(&cfg.HistoryConf.Path, "HARVEST_HISTORY_DSN")
}

// LoadSources 加载目录下所有 *.yml / *.yaml 来源描述文件，按名称排序。
// 目录不可读时返回错误；单个文件格式错误只记录日志并跳过。
func LoadSources(dir string) ([]model.SourceDescriptor, error) {
	l := logger.WithComponent("Config/Sources")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources dir: %w", err)
	}

	var sources []model.SourceDescriptor
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())

		src, err := loadSource(path)
		if err != nil {
			l.Warn().Err(err).Str("file", path).Msg("Skipping malformed source descriptor.")
			continue
		}
		if prev, ok := seen[src.Name()]; ok {
			l.Warn().Str("file", path).Str("first", prev).Str("name", src.Name()).Msg("Skipping duplicate source name.")
			continue
		}
		seen[src.Name()] = path
		sources = append(sources, src)
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Name() < sources[j].Name()
	})
	l.Info().Int("count", len(sources)).Str("dir", dir).Msg("Source descriptors loaded.")
	return sources, nil
}

func loadSource(path string) (model.SourceDescriptor, error) {
	var src model.SourceDescriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return src, err
	}
	if err := yaml.Unmarshal(data, &src); err != nil {
		return src, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if err := src.Validate(); err != nil {
		return src, err
	}
	return src, nil
}

func overrideFromEnv(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
