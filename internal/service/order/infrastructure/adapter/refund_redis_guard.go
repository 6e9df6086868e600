package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/redis"
)

const (
	refundGuardPrefix  = "refund:guard:"
	refundGuardTTL     = 30 * time.Minute
	releaseGuardScript = "release_refund_guard"
)

// RefundRedisGuard 是 port.RefundGuard 的 Redis 实现。
// SETNX 保证同一订单同时只有一笔退款在途；TTL 防止进程崩溃后永久锁死，
// 超时后由对账扫描接管收敛。
type RefundRedisGuard struct {
	redisClient *redis.Client
}

func NewRefundRedisGuard(redisClient *redis.Client) (*RefundRedisGuard, error) {
	if err := redisClient.LoadScriptFromContent(releaseGuardScript, releaseGuardLua); err != nil {
		return nil, fmt.Errorf("failed to load refund guard script: %w", err)
	}
	return &RefundRedisGuard{redisClient: redisClient}, nil
}

func (g *RefundRedisGuard) Acquire(ctx context.Context, orderID, refundID string) (bool, error) {
	key := refundGuardPrefix + orderID
	return g.redisClient.GetClient().SetNX(ctx, key, refundID, refundGuardTTL).Result()
}

// Release 只清除本订单的闸门，键不存在时视为已释放。
func (g *RefundRedisGuard) Release(ctx context.Context, orderID string) error {
	key := refundGuardPrefix + orderID
	_, err := g.redisClient.RunScript(ctx, releaseGuardScript, []string{key})
	return err
}

var releaseGuardLua = `
-- KEYS[1]: 退款闸门的 Key, 例如: refund:guard:<orderID>
if redis.call('exists', KEYS[1]) == 1 then
    return redis.call('del', KEYS[1])
end
return 0
`
