// cmd/auto-confirm/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/config"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/mq"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/tracing"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/application"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/infrastructure"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/infrastructure/adapter"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/interfaces"
)

const (
	serviceName     = "auto-confirm"
	consumerGroupID = "auto-confirm-consumer-group"
	triggerInterval = 24 * time.Hour
)

// 自动确认收货由两条路径驱动：定时器每天从头发起一轮全量扫描，
// 续批消息接力扫描中被时间预算打断的批次。
func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	logger.Init(serviceName)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	defer tp.Shutdown(context.Background())

	db, err := infrastructure.OpenDB(cfg.Infra.MySQL.DSN)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to open database")
	}
	store := infrastructure.NewGormStore(db)

	continuationWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.AutoConfirmTopic)
	defer continuationWriter.Close()

	continuationReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.AutoConfirmTopic, consumerGroupID)

	engine := application.NewEngine(store)
	publisher := adapter.NewAutoConfirmKafkaAdapter(continuationWriter)
	service := application.NewAutoConfirmService(store, engine, publisher, cfg.AutoConfirm.AfterDays)

	ctx, cancel := context.WithCancel(context.Background())
	consumer := interfaces.NewAutoConfirmConsumer(continuationReader, service)
	consumer.Start(ctx)

	go func() {
		ticker := time.NewTicker(triggerInterval)
		defer ticker.Stop()

		// 启动先补扫一轮，进程重启不丢当天的任务
		trigger(ctx, service)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				trigger(ctx, service)
			}
		}
	}()

	logger.Logger.Info().Msg("auto confirm service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	consumer.Stop()
	logger.Logger.Info().Msg("auto confirm service stopped")
}

// trigger 从零值游标发起新一轮扫描。
func trigger(ctx context.Context, service *application.AutoConfirmService) {
	if _, err := service.Run(ctx, application.ConfirmCursor{}); err != nil {
		logger.Logger.Error().Err(err).Msg("auto confirm run failed")
	}
}
