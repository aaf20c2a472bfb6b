// cmd/order-service/main.go
package main

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"brasa/internal/pkg/bootstrap"
	"brasa/internal/pkg/httpclient"
	"brasa/internal/pkg/logger"
	"brasa/internal/pkg/mq"
	"brasa/internal/pkg/redis"
	"brasa/internal/pkg/session"
	"brasa/internal/realtime"
	"brasa/internal/service/order/application"
	"brasa/internal/service/order/domain/port"
	"brasa/internal/service/order/infrastructure"
	"brasa/internal/service/order/infrastructure/adapter"
	"brasa/internal/service/order/interfaces"
	"brasa/internal/zookeeper"
)

const (
	serviceName = "order-service"
	servicePort = 8080
)

// main 是订单服务的组装根：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	// 1. 基础设施连接
	db, err := infrastructure.NewMySQL(cfg.Infra.MySQL.DSN)
	if err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to connect to mysql")
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to initialize redis client")
	}

	kafkaWriter := mq.NewKafkaWriter(
		strings.Split(cfg.Infra.Kafka.Brokers, ","),
		cfg.Infra.Kafka.OrderEventsTopic,
	)

	// 2. 订单锁。多实例部署必须用 Zookeeper，单实例/本地开发可以
	// 不配 servers，退化为进程内锁。
	var locker port.OrderLocker
	var zkConn *zookeeper.Conn
	lockWait := time.Duration(cfg.App.LockWaitSeconds) * time.Second
	if cfg.Infra.Zookeeper.Servers != "" {
		zkConn, err = zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 5*time.Second)
		if err != nil {
			logger.Logger().Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		locker = infrastructure.NewZkLocker(zkConn, lockWait)
	} else {
		logger.Logger().Warn().Msg("zookeeper not configured, falling back to in-process order lock")
		locker = infrastructure.NewMemLocker()
	}

	// 3. 出站适配器
	tracer := otel.Tracer(serviceName)
	refunds := adapter.NewRefundHTTPAdapter(httpclient.NewClient(tracer), cfg.Infra.Refund.BaseURL)

	loyalty, err := adapter.NewLoyaltyRedisAdapter(redisClient)
	if err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to load loyalty reversal script")
	}

	producer := infrastructure.NewOrderEventProducerAdapter(kafkaWriter)

	// 4. 应用服务与 HTTP 接口层
	appService := application.NewOrderApplicationService(
		infrastructure.NewGormOrderRepository(db),
		refunds,
		loyalty,
		locker,
		producer,
		tracer,
		time.Duration(cfg.App.RefundTimeoutSeconds)*time.Second,
	)

	handler := interfaces.NewOrderHandler(
		appService,
		realtime.NewTokenStore(redisClient),
		session.NewManager(redisClient),
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			if err := kafkaWriter.Close(); err != nil {
				logger.Logger().Error().Err(err).Msg("error closing kafka writer")
			}
			if err := redisClient.Close(); err != nil {
				logger.Logger().Error().Err(err).Msg("error closing redis client")
			}
			if zkConn != nil {
				zkConn.Close()
			}
		},
	})
}
