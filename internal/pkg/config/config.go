package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/nacos"
)

// Config 汇总所有服务共享的配置。本地 yaml 打底，
// 环境变量和 Nacos（若启用）依次覆盖。
type Config struct {
	Service struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"service"`

	Infra struct {
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers          []string `yaml:"brokers"`
			NoticeTopic      string   `yaml:"notice_topic"`
			AutoConfirmTopic string   `yaml:"auto_confirm_topic"`
		} `yaml:"kafka"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			Enabled     bool   `yaml:"enabled"`
			ServerAddrs string `yaml:"server_addrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
			DataId      string `yaml:"data_id"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Payment struct {
		BaseURL   string        `yaml:"base_url"`
		MchID     string        `yaml:"mch_id"`
		NotifyURL string        `yaml:"notify_url"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"payment"`

	Admin struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"admin"`

	Recovery struct {
		Interval      time.Duration `yaml:"interval"`
		StaleAfter    time.Duration `yaml:"stale_after"`
		CriticalAfter time.Duration `yaml:"critical_after"`
	} `yaml:"recovery"`

	AutoConfirm struct {
		AfterDays int `yaml:"after_days"`
		BatchSize int `yaml:"batch_size"`
	} `yaml:"auto_confirm"`
}

// Load 读取 path 指定的 yaml 文件，补齐默认值，
// 再按需叠加 Nacos 下发的配置和环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if cfg.Infra.Nacos.Enabled {
		if err := overlayNacos(cfg); err != nil {
			return nil, err
		}
	}

	overlayEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Service.Port = 8080
	cfg.Infra.Kafka.NoticeTopic = "merchant-notices"
	cfg.Infra.Kafka.AutoConfirmTopic = "auto-confirm-batches"
	cfg.Payment.Timeout = 5 * time.Second
	cfg.Admin.Timeout = 3 * time.Second
	cfg.Recovery.Interval = 10 * time.Minute
	cfg.Recovery.StaleAfter = time.Hour
	cfg.Recovery.CriticalAfter = 24 * time.Hour
	cfg.AutoConfirm.AfterDays = 7
	cfg.AutoConfirm.BatchSize = 100
	return cfg
}

// overlayNacos 拉取配置中心的 yaml 并覆盖本地值，拉取失败视为致命错误，
// 因为启用了 Nacos 就意味着本地文件只是兜底模板。
func overlayNacos(cfg *Config) error {
	client, err := nacos.NewConfigClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return err
	}
	defer client.Close()

	content, err := client.GetConfig(cfg.Infra.Nacos.DataId)
	if err != nil {
		return err
	}
	if content != "" {
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			return fmt.Errorf("parse nacos config: %w", err)
		}
	}
	return nil
}

// overlayEnv 允许容器环境用环境变量改掉最常动的几个地址类配置。
func overlayEnv(cfg *Config) {
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.MySQL.DSN = v
	}
	if v := os.Getenv("REDIS_ADDRS"); v != "" {
		cfg.Infra.Redis.Addrs = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ZK_SERVERS"); v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("PAYMENT_BASE_URL"); v != "" {
		cfg.Payment.BaseURL = v
	}
	if v := os.Getenv("ADMIN_BASE_URL"); v != "" {
		cfg.Admin.BaseURL = v
	}
}
