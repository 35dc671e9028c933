package config

import (
	"os"
	"path/filepath"
	"testing"

	"proxyharvest/proxypool/model"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadIni_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "harvest.ini", `
[common]
output_dir = out

[validator]
backend = direct
keep_dead = true
concurrency = 8

[web]
user = admin
password = secret
`)

	cfg := Default()
	if err := LoadIni(cfg, filepath.Join(dir, "harvest.ini")); err != nil {
		t.Fatalf("LoadIni failed: %v", err)
	}

	if cfg.OutputDir != "out" {
		t.Errorf("Expected output_dir 'out', got %q", cfg.OutputDir)
	}
	if cfg.SourcesDir != "sources" {
		t.Errorf("Expected default sources_dir to survive, got %q", cfg.SourcesDir)
	}
	if cfg.Backend != "direct" || !cfg.KeepDead || cfg.Concurrency != 8 {
		t.Errorf("Unexpected validator conf: %+v", cfg.ValidatorConf)
	}
	if cfg.ValidatorConf.TimeoutSeconds != 120 {
		t.Errorf("Expected default validator timeout, got %d", cfg.ValidatorConf.TimeoutSeconds)
	}
	if cfg.User != "admin" || cfg.Password != "secret" || cfg.Port != 8088 {
		t.Errorf("Unexpected web conf: %+v", cfg.WebConf)
	}
}

func TestLoadIni_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "harvest.ini", "[log]\nlevel = warn\n")
	t.Setenv("HARVEST_CHECK_ENDPOINT", "http://127.0.0.1:9999/check")
	t.Setenv("HARVEST_LOG_LEVEL", "debug")
	t.Setenv("HARVEST_HISTORY_DSN", "user:pass@tcp(127.0.0.1:3306)/harvest")

	cfg := Default()
	if err := LoadIni(cfg, filepath.Join(dir, "harvest.ini")); err != nil {
		t.Fatalf("LoadIni failed: %v", err)
	}
	if cfg.Endpoint != "http://127.0.0.1:9999/check" {
		t.Errorf("Expected endpoint from env, got %q", cfg.Endpoint)
	}
	if cfg.Level != "debug" {
		t.Errorf("Expected level from env, got %q", cfg.Level)
	}
	if cfg.HistoryConf.Path != "user:pass@tcp(127.0.0.1:3306)/harvest" || cfg.Driver != "sqlite" {
		t.Errorf("Unexpected history conf: %+v", cfg.HistoryConf)
	}
}

func TestLoadIni_MissingFile(t *testing.T) {
	if err := LoadIni(Default(), filepath.Join(t.TempDir(), "nope.ini")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "zeta.yml", `
info:
  name: zeta
  source: https://example.com
  source_type: Github
  proxy_type: http, socks5
  author: someone
extractors:
  type: split
  delimiter: "\n"
proxies:
  - https://example.com/a.txt
  - https://example.com/b.txt
`)
	writeFile(t, dir, "alpha.yaml", `
info:
  name: alpha
extractors:
  type: json
  path:
    ip: data.#.ip
    port: data.#.port
proxies:
  - https://example.com/api
`)
	writeFile(t, dir, "broken.yml", "info: [unterminated\n")
	writeFile(t, dir, "badrule.yml", `
info:
  name: badrule
extractors:
  type: regex
proxies:
  - https://example.com
`)
	writeFile(t, dir, "README.md", "not a descriptor")

	sources, err := LoadSources(dir)
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(sources))
	}
	if sources[0].Name() != "alpha" || sources[1].Name() != "zeta" {
		t.Errorf("Expected sorted names [alpha zeta], got [%s %s]", sources[0].Name(), sources[1].Name())
	}
	if sources[0].Rule.Kind != model.RuleJSON || sources[0].Rule.Path.IP != "data.#.ip" {
		t.Errorf("Unexpected alpha rule: %+v", sources[0].Rule)
	}
	z := sources[1]
	if len(z.URLs) != 2 || z.Rule.Delimiter != "\n" {
		t.Errorf("Unexpected zeta descriptor: %+v", z)
	}
	if types := z.Info.ProxyTypes(); len(types) != 2 || types[1] != "socks5" {
		t.Errorf("Unexpected proxy types: %v", types)
	}
}

func TestLoadSources_UnreadableDir(t *testing.T) {
	if _, err := LoadSources(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}
