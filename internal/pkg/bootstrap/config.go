// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"brasa/internal/pkg/logger"
)

// Config 是所有服务共享的配置结构，从 YAML 文件加载，再用环境变量覆盖。
type Config struct {
	App struct {
		RefundTimeoutSeconds int `yaml:"refund_timeout_seconds"`
		LockWaitSeconds      int `yaml:"lock_wait_seconds"`
	} `yaml:"app"`

	Infra struct {
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers          string `yaml:"brokers"`
			OrderEventsTopic string `yaml:"order_events_topic"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Servers string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Nacos struct {
			Addrs     string `yaml:"addrs"`
			Namespace string `yaml:"namespace"`
			Group     string `yaml:"group"`
		} `yaml:"nacos"`
		Refund struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"refund"`
	} `yaml:"infra"`
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置。必须在 StartService 和任何 GetCurrentConfig 调用之前执行。
func Init() {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Logger().Fatal().Err(err).Str("path", path).Msg("failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			logger.Logger().Fatal().Err(err).Str("path", path).Msg("failed to parse config file")
		}
	}

	// 环境变量优先于文件，方便在容器编排里逐项覆盖
	overrideFromEnv(&cfg.Infra.MySQL.DSN, "MYSQL_DSN")
	overrideFromEnv(&cfg.Infra.Redis.Addrs, "REDIS_ADDRS")
	overrideFromEnv(&cfg.Infra.Kafka.Brokers, "KAFKA_BROKERS")
	overrideFromEnv(&cfg.Infra.Kafka.OrderEventsTopic, "ORDER_EVENTS_TOPIC")
	overrideFromEnv(&cfg.Infra.Jaeger.Endpoint, "JAEGER_ENDPOINT")
	overrideFromEnv(&cfg.Infra.Zookeeper.Servers, "ZOOKEEPER_SERVERS")
	overrideFromEnv(&cfg.Infra.Nacos.Addrs, "NACOS_SERVER_ADDRS")
	overrideFromEnv(&cfg.Infra.Nacos.Namespace, "NACOS_NAMESPACE")
	overrideFromEnv(&cfg.Infra.Nacos.Group, "NACOS_GROUP")
	overrideFromEnv(&cfg.Infra.Refund.BaseURL, "REFUND_BASE_URL")

	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		// 未显式 Init 时退回默认值，主要方便单元测试
		return defaultConfig()
	}
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.RefundTimeoutSeconds = 10
	cfg.App.LockWaitSeconds = 15
	cfg.Infra.MySQL.DSN = "brasa:brasa@tcp(localhost:3306)/brasa?charset=utf8mb4&parseTime=True&loc=UTC"
	cfg.Infra.Redis.Addrs = "localhost:6379"
	cfg.Infra.Kafka.Brokers = "localhost:9092"
	cfg.Infra.Kafka.OrderEventsTopic = "order-events-v1"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Zookeeper.Servers = "localhost:2181"
	cfg.Infra.Nacos.Addrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.Infra.Refund.BaseURL = "http://localhost:9200"
	return cfg
}

func overrideFromEnv(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok {
		*target = value
	}
}
