// cmd/push-gateway/main.go
package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"brasa/internal/pkg/bootstrap"
	"brasa/internal/pkg/logger"
	"brasa/internal/pkg/mq"
	"brasa/internal/pkg/redis"
	"brasa/internal/pkg/session"
	"brasa/internal/realtime"
)

const (
	serviceName = "push-gateway"
	servicePort = 8088
)

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to initialize redis client")
	}

	// 每个网关节点有独立的身份，也用独立的消费组：订单事件广播到
	// 所有节点，由持有该用户连接的节点真正投递。
	nodeID := serviceName + "-" + uuid.New().String()[:8]

	hub := realtime.NewHub()
	go hub.Run()

	reader := mq.NewKafkaReader(
		strings.Split(cfg.Infra.Kafka.Brokers, ","),
		cfg.Infra.Kafka.OrderEventsTopic,
		nodeID,
	)
	consumer := realtime.NewEventConsumer(reader, hub, otel.Tracer(serviceName))
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumer.Start(consumerCtx)

	server := realtime.NewServer(
		hub,
		realtime.NewTokenStore(redisClient),
		session.NewManager(redisClient),
		nodeID,
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
			appCtx.Mux.HandleFunc("/ws", server.ServeWS)
		},
		OnShutdown: func(ctx context.Context) {
			stopConsumer()
			consumer.Stop()
			hub.Stop()
			if err := redisClient.Close(); err != nil {
				logger.Logger().Error().Err(err).Msg("error closing redis client")
			}
		},
	})
}
