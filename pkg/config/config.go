// Package config 应用配置：YAML 文件 + 环境变量覆盖（env > 文件 > 默认值）。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BrokerConfig 券商网关连接配置
type BrokerConfig struct {
	BaseURL        string `yaml:"base_url"`
	StreamURL      string `yaml:"stream_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (b BrokerConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// LadderConfig 阶梯订单默认配置
type LadderConfig struct {
	TagPrefix    string `yaml:"tag_prefix"`    // 客户端标签前缀，默认 breakout:
	CustomRatios string `yaml:"custom_ratios"` // 自定义分配比例串，如 "0.6-0.3-0.1"
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // 天
	Compress   bool   `yaml:"compress"`
}

// Config 应用配置
type Config struct {
	Account      string       `yaml:"account"`
	Broker       BrokerConfig `yaml:"broker"`
	Ladder       LadderConfig `yaml:"ladder"`
	Log          LogConfig    `yaml:"log"`
	TagStorePath string       `yaml:"tag_store_path"`
	JournalPath  string       `yaml:"journal_path"`
}

// Load 加载配置：先 .env（尽力而为），再 YAML 文件（可不存在），最后环境变量覆盖。
func Load(filePath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Ladder: LadderConfig{TagPrefix: "breakout:"},
		Log:    LogConfig{Level: "info", MaxSize: 100, MaxBackups: 5, MaxAge: 14},
		Broker: BrokerConfig{TimeoutSeconds: 30},
	}

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Broker.BaseURL == "" {
		return nil, fmt.Errorf("缺少券商网关地址（broker.base_url 或 BROKER_BASE_URL）")
	}
	if cfg.TagStorePath == "" {
		cfg.TagStorePath = "data/tagstore"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "data/ladder_journal.db"
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Account, "ACCOUNT")
	setString(&cfg.Broker.BaseURL, "BROKER_BASE_URL")
	setString(&cfg.Broker.StreamURL, "BROKER_STREAM_URL")
	setString(&cfg.Broker.APIKey, "BROKER_API_KEY")
	setInt(&cfg.Broker.TimeoutSeconds, "BROKER_TIMEOUT_SECONDS")
	setString(&cfg.Ladder.TagPrefix, "LADDER_TAG_PREFIX")
	setString(&cfg.Ladder.CustomRatios, "LADDER_CUSTOM_RATIOS")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.OutputFile, "LOG_FILE")
	setString(&cfg.TagStorePath, "TAG_STORE_PATH")
	setString(&cfg.JournalPath, "JOURNAL_PATH")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
