package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 是对 zk.Conn 的薄封装，统一在这里处理连接建立和会话超时，
// 上层（分布式锁）不直接接触 zk 包的连接细节。
type Conn struct {
	*zk.Conn
}

// Connect 建立 ZooKeeper 会话。sessionTimeout 决定临时节点在断连后
// 多久被服务器清理，也就是锁的最长"遗留"时间。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	c, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c}, nil
}

// EnsurePath 逐级创建持久节点，已存在时静默返回。
func (c *Conn) EnsurePath(path string) error {
	_, err := c.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return err
	}
	return nil
}
