package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "wxstore:session:"
	sessionTTL       = 24 * time.Hour
)

// Manager 维护 "用户 -> 推送网关节点" 的映射，存在 Redis 里。
// 商家端 WebSocket 连到哪个网关节点，订单通知就路由到哪个节点。
type Manager struct {
	rdb *redis.Client
}

func NewManager(redisAddr string) *Manager {
	return &Manager{
		rdb: redis.NewClient(&redis.Options{Addr: redisAddr}),
	}
}

// SetUserGateway 记录用户当前连接的网关节点，带 TTL 避免僵尸会话。
func (m *Manager) SetUserGateway(ctx context.Context, userID, nodeID string) error {
	return m.rdb.Set(ctx, sessionKeyPrefix+userID, nodeID, sessionTTL).Err()
}

// GetUserGateway 查询用户所在的网关节点，未上线返回空串。
func (m *Manager) GetUserGateway(ctx context.Context, userID string) (string, error) {
	node, err := m.rdb.Get(ctx, sessionKeyPrefix+userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get session for %s: %w", userID, err)
	}
	return node, nil
}

// RemoveUserGateway 用户断开连接时清理会话。
func (m *Manager) RemoveUserGateway(ctx context.Context, userID string) error {
	return m.rdb.Del(ctx, sessionKeyPrefix+userID).Err()
}
