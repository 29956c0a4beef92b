package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
account: DU100
broker:
  base_url: https://gateway.example.com
  stream_url: wss://gateway.example.com/stream
  api_key: k123
  timeout_seconds: 10
ladder:
  tag_prefix: "breakout:"
  custom_ratios: "0.6-0.3-0.1"
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Account != "DU100" || cfg.Broker.BaseURL != "https://gateway.example.com" {
		t.Fatalf("基础字段异常: %+v", cfg)
	}
	if cfg.Ladder.CustomRatios != "0.6-0.3-0.1" || cfg.Log.Level != "debug" {
		t.Fatalf("嵌套字段异常: %+v", cfg)
	}
	if cfg.Broker.Timeout().Seconds() != 10 {
		t.Fatalf("timeout = %v", cfg.Broker.Timeout())
	}
	// 默认值兜底
	if cfg.TagStorePath == "" || cfg.JournalPath == "" {
		t.Fatalf("默认路径未填充: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BROKER_BASE_URL", "https://env.example.com")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.BaseURL != "https://env.example.com" {
		t.Fatalf("环境变量未覆盖: %q", cfg.Broker.BaseURL)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	if cfg.Ladder.TagPrefix != "breakout:" {
		t.Fatalf("默认前缀异常: %q", cfg.Ladder.TagPrefix)
	}
}

func TestLoadMissingBrokerURL(t *testing.T) {
	os.Unsetenv("BROKER_BASE_URL")
	if _, err := Load(""); err == nil {
		t.Fatalf("缺少网关地址应报错")
	}
}
