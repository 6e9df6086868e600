package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是全局默认日志器。各服务在 main 中调用 Init 之后，
// 业务代码统一通过 Ctx(ctx) 获取带上下文的日志器。
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init 设置服务名和日志级别，在组装根中调用一次。
func Init(serviceName string) {
	level := zerolog.InfoLevel
	if lv, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lv != zerolog.NoLevel {
		level = lv
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	Logger = zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回与 ctx 绑定的日志器。若 ctx 中携带了有效的 trace span，
// 自动附加 trace_id 字段，方便在 Jaeger 和日志之间互相跳转。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &Logger
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		sub := l.With().Str("trace_id", sc.TraceID().String()).Logger()
		return &sub
	}
	return l
}

// WithContext 把全局日志器注入 ctx，供下游 Ctx 取用。
func WithContext(ctx context.Context) context.Context {
	return Logger.WithContext(ctx)
}
