// cmd/refund-recovery/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/config"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/httpclient"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	pkgredis "github.com/ginkoc/wxcloud-little-store/internal/pkg/redis"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/tracing"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/zookeeper"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/application"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/infrastructure"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/infrastructure/adapter"
)

const serviceName = "refund-recovery"

// 对账扫描以固定间隔运行，多实例部署时用 ZooKeeper 锁选主，
// 同一时刻只有一个实例在扫，避免重复收敛同一批退款。
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

	redisClient, err := pkgredis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize redis client")
	}
	defer redisClient.Close()

	guard, err := adapter.NewRefundRedisGuard(redisClient)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize refund guard")
	}

	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to connect zookeeper")
	}

	httpClient := httpclient.NewClient(otel.Tracer(serviceName))
	gateway := adapter.NewWxpayHTTPAdapter(httpClient, cfg.Payment.BaseURL, cfg.Payment.MchID, cfg.Payment.NotifyURL)

	recovery := application.NewRecoveryService(store, gateway, guard)
	recovery.SetThresholds(cfg.Recovery.StaleAfter, cfg.Recovery.CriticalAfter)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	ticker := time.NewTicker(cfg.Recovery.Interval)
	defer ticker.Stop()

	logger.Logger.Info().Dur("interval", cfg.Recovery.Interval).Msg("refund recovery started")
	runOnce(ctx, zkConn, recovery)
	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info().Msg("refund recovery stopped")
			return
		case <-ticker.C:
			runOnce(ctx, zkConn, recovery)
		}
	}
}

// runOnce 抢到领导锁才跑，抢不到说明别的实例正在扫。
func runOnce(ctx context.Context, zkConn *zookeeper.Conn, recovery *application.RecoveryService) {
	lock, err := zookeeper.NewDistributedLock(zkConn, "refund-recovery")
	if err != nil {
		logger.Logger.Error().Err(err).Msg("create leader lock failed")
		return
	}
	if err := lock.TryLock(); err != nil {
		if err == zookeeper.ErrNotAcquired {
			logger.Logger.Debug().Msg("another instance holds the sweep lock")
			return
		}
		logger.Logger.Error().Err(err).Msg("acquire leader lock failed")
		return
	}
	defer lock.Unlock()

	if _, err := recovery.RunSweep(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("recovery sweep failed")
	}
}
