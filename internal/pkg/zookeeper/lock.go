package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/wxstore_locks"

var ErrNotAcquired = errors.New("zookeeper: lock not acquired")

// DistributedLock 基于临时顺序节点实现的分布式锁。
// 对账扫描任务用它做多实例互斥：同一时刻只允许一个实例执行扫描。
type DistributedLock struct {
	conn     *Conn
	path     string
	lockNode string
}

// NewDistributedLock 为 resourceID 创建一把锁，懒初始化父节点。
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	if err := conn.EnsurePath(lockRoot); err != nil {
		return nil, fmt.Errorf("ensure lock root: %w", err)
	}
	lockPath := lockRoot + "/" + resourceID
	if err := conn.EnsurePath(lockPath); err != nil {
		return nil, fmt.Errorf("ensure lock path %s: %w", lockPath, err)
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// TryLock 非阻塞地尝试获取锁。拿不到立即返回 ErrNotAcquired，
// 调用方（定时扫描）直接跳过本轮，等待下一次触发。
func (l *DistributedLock) TryLock() error {
	node, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("create sequential node: %w", err)
	}
	l.lockNode = node

	children, _, err := l.conn.Children(l.path)
	if err != nil {
		l.release()
		return fmt.Errorf("list lock children: %w", err)
	}
	sort.Strings(children)

	if strings.TrimPrefix(l.lockNode, l.path+"/") == children[0] {
		return nil
	}
	l.release()
	return ErrNotAcquired
}

// Lock 阻塞获取锁：创建临时顺序节点，监听自己前一个节点的删除事件。
func (l *DistributedLock) Lock(timeout time.Duration) error {
	node, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("create sequential node: %w", err)
	}
	l.lockNode = node
	deadline := time.Now().Add(timeout)

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return fmt.Errorf("list lock children: %w", err)
		}
		sort.Strings(children)

		mine := strings.TrimPrefix(l.lockNode, l.path+"/")
		if mine == children[0] {
			return nil
		}

		// 只监听排在自己前面的那个节点，避免惊群
		prev := ""
		for i, child := range children {
			if child == mine && i > 0 {
				prev = l.path + "/" + children[i-1]
				break
			}
		}
		if prev == "" {
			return errors.New("zookeeper: own lock node missing from children")
		}

		exists, _, eventCh, err := l.conn.ExistsW(prev)
		if err != nil {
			return fmt.Errorf("watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case ev := <-eventCh:
			if ev.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(time.Until(deadline)):
			l.release()
			return fmt.Errorf("zookeeper: lock wait timed out after %v", timeout)
		}
	}
}

// Unlock 删除自己的锁节点。重复调用安全。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return nil
	}
	if err := l.conn.Delete(l.lockNode, -1); err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) release() {
	_ = l.conn.Delete(l.lockNode, -1)
	l.lockNode = ""
}
