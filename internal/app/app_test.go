package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"proxyharvest/internal/shared/config"
	"proxyharvest/internal/shared/types"
	"proxyharvest/proxypool/fetcher"
)

// setup 准备一个来源目录、一个来源服务器和一个检测服务器。
func setup(t *testing.T) *types.Config {
	t.Helper()
	dir := t.TempDir()

	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "1.1.1.1:80\r\n2.2.2.2:1080\n")
	}))
	t.Cleanup(src.Close)

	check := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"ip": "1.1.1.1", "port": 80, "type": "http", "working": true},
			{"ip": "2.2.2.2", "port": 1080, "type": "socks5", "working": false},
		})
	}))
	t.Cleanup(check.Close)

	sourcesDir := filepath.Join(dir, "sources")
	os.MkdirAll(sourcesDir, 0755)
	descriptor := fmt.Sprintf(`
info:
  name: local
  source_type: Github
  proxy_type: http
  author: tester
extractors:
  type: split
proxies:
  - %s/list.txt
`, src.URL)
	if err := os.WriteFile(filepath.Join(sourcesDir, "local.yml"), []byte(descriptor), 0644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	cfg := config.Default()
	cfg.SourcesDir = sourcesDir
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.StatisticsPath = filepath.Join(dir, "docs", "STATISTICS.md")
	cfg.Endpoint = check.URL
	cfg.HistoryConf.Path = filepath.Join(dir, "history.db")
	return cfg
}

func TestRunOnce(t *testing.T) {
	cfg := setup(t)
	a, err := New(cfg, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Stop()

	res, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].IP != "1.1.1.1" {
		t.Fatalf("Expected one working record, got %+v", res.Records)
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "proxies.txt"))
	if err != nil {
		t.Fatalf("read proxies.txt: %v", err)
	}
	if string(data) != "1.1.1.1:80\n" {
		t.Errorf("Unexpected proxies.txt: %q", data)
	}

	latest, err := a.history.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest.ID != res.RunID || latest.Working != 1 {
		t.Errorf("Unexpected history row: %+v", latest)
	}
}

func TestStats(t *testing.T) {
	cfg := setup(t)
	a, err := New(cfg, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Stop()

	report, err := a.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(report.Sources) != 1 {
		t.Fatalf("Expected one source, got %d", len(report.Sources))
	}
	s := report.Sources[0]
	if s.Total != 2 || s.Live != 1 || s.Dead != 1 {
		t.Errorf("Expected dead entries to be counted, got %+v", s)
	}

	md, err := os.ReadFile(cfg.StatisticsPath)
	if err != nil {
		t.Fatalf("read statistics: %v", err)
	}
	if !strings.Contains(string(md), "| local | 2 | 1 | 1 |") {
		t.Errorf("Unexpected statistics content:\n%s", md)
	}
}

func TestNewChecker(t *testing.T) {
	identity := fetcher.DefaultIdentity()
	if c, err := newChecker(types.ValidatorConf{Backend: "direct"}, identity); err != nil || c.Name() != "direct" {
		t.Errorf("Expected direct backend, got %v, %v", c, err)
	}
	if c, err := newChecker(types.ValidatorConf{}, identity); err != nil || c.Name() != "onlinecheck" {
		t.Errorf("Expected default onlinecheck backend, got %v, %v", c, err)
	}
	if _, err := newChecker(types.ValidatorConf{Backend: "carrier-pigeon"}, identity); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNew_CreatesHistoryDir(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.HistoryConf.Path = filepath.Join(t.TempDir(), "nested", "data", "history.sqlite3")

	a, err := New(cfg, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Stop()

	if _, err := os.Stat(filepath.Dir(cfg.HistoryConf.Path)); err != nil {
		t.Errorf("Expected history dir to exist: %v", err)
	}
}

func TestRunOnce_CancelledRunKeepsPreviousOutput(t *testing.T) {
	cfg := setup(t)
	a, err := New(cfg, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Stop()

	first, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first RunOnce failed: %v", err)
	}
	txtPath := filepath.Join(cfg.OutputDir, "proxies.txt")
	before, err := os.ReadFile(txtPath)
	if err != nil {
		t.Fatalf("read proxies.txt: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	after, err := os.ReadFile(txtPath)
	if err != nil {
		t.Fatalf("read proxies.txt: %v", err)
	}
	if string(after) != string(before) {
		t.Errorf("Expected proxies.txt to be unchanged, got %q want %q", after, before)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "http.txt")); err != nil {
		t.Errorf("Expected http.txt to survive the cancelled run: %v", err)
	}

	latest, err := a.history.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest.ID != first.RunID {
		t.Errorf("Expected cancelled run not to be recorded, latest is %s", latest.ID)
	}
}
