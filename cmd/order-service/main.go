// cmd/order-service/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/config"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/httpclient"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/mq"
	pkgredis "github.com/ginkoc/wxcloud-little-store/internal/pkg/redis"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/tracing"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/application"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/infrastructure"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/infrastructure/adapter"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/infrastructure/rule"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/interfaces"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	logger.Init(serviceName)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	// 1. 初始化核心技术组件
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

	redisClient, err := pkgredis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize redis client")
	}
	defer redisClient.Close()

	noticeWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NoticeTopic)
	defer noticeWriter.Close()

	httpClient := httpclient.NewClient(otel.Tracer(serviceName))

	// 2. 组装出站适配器
	gateway := adapter.NewWxpayHTTPAdapter(httpClient, cfg.Payment.BaseURL, cfg.Payment.MchID, cfg.Payment.NotifyURL)
	adminChecker := adapter.NewAdminHTTPAdapter(httpClient, cfg.Admin.BaseURL)
	guard, err := adapter.NewRefundRedisGuard(redisClient)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize refund guard")
	}
	policy, err := rule.NewCELRefundPolicy("")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to compile refund policy")
	}

	// 3. 组装应用服务
	engine := application.NewEngine(store)
	notices := application.NewNoticeService(adapter.NewNoticeKafkaAdapter(noticeWriter))
	refunds := application.NewRefundService(store, engine, gateway, guard, policy, notices)
	orders := application.NewOrderService(store, engine, gateway, adminChecker, policy, refunds)
	paymentCallbacks := application.NewPaymentCallbackService(store, engine)
	refundCallbacks := application.NewRefundCallbackService(store, guard, notices)

	// 4. 注册 HTTP 路由并启动服务
	mux := http.NewServeMux()
	interfaces.NewOrderHTTPHandler(orders, refunds).RegisterRoutes(mux)
	interfaces.NewCallbackHandler(paymentCallbacks, refundCallbacks).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: mux,
	}

	go func() {
		logger.Logger.Info().Int("port", cfg.Service.Port).Msg("order service started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Logger.Info().Msg("order service stopped")
}
