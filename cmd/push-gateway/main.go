// cmd/push-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/config"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/mq"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/session"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

const (
	serviceName     = "push-gateway"
	consumerGroupID = "merchant-notice-push-group"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	nodeID   = "push-gateway-" + uuid.New().String()[:8]
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool { // 小程序侧无同源约束
			return true
		},
	}
)

// Hub 维护所有在线的商家连接，按 openid 索引。
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client.openID] = client
			h.lock.Unlock()
			logger.Logger.Info().Str("openid", client.openID).Str("node", nodeID).Msg("merchant client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[client.openID]; ok {
				delete(h.clients, client.openID)
				close(client.send)
			}
			h.lock.Unlock()
			logger.Logger.Info().Str("openid", client.openID).Msg("merchant client unregistered")
		}
	}
}

// broadcast 把一条消息发给所有在线商家。
func (h *Hub) broadcast(payload []byte) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// Client 是一个商家端 WebSocket 连接。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	openID string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(sessionMgr *session.Manager) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		sessionMgr.RemoveUserGateway(context.Background(), c.openID)
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// 商家端只发心跳，正文一律忽略
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, sessionMgr *session.Manager, w http.ResponseWriter, r *http.Request) {
	openID := r.Header.Get("X-WX-OPENID")
	if openID == "" {
		http.Error(w, "缺少用户身份", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), openID: openID}
	client.hub.register <- client

	// 会话登记到 Redis，消息路由按它找到商家所在节点
	if err := sessionMgr.SetUserGateway(context.Background(), openID, nodeID); err != nil {
		logger.Logger.Error().Err(err).Str("openid", openID).Msg("set session failed")
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(sessionMgr)
}

// consumeNotices 消费商家通知主题并推给在线商家。
// 商家不在线时只记日志，通知在商家端列表页仍可拉取。
func consumeNotices(ctx context.Context, reader *kafka.Reader, hub *Hub) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Logger.Error().Err(err).Msg("fetch merchant notice failed")
			time.Sleep(1 * time.Second)
			continue
		}

		var notice port.MerchantNotice
		if err := json.Unmarshal(msg.Value, &notice); err != nil {
			logger.Logger.Error().Err(err).Msg("malformed merchant notice, skipped")
		} else {
			// 通知面向店铺的全部管理员
			hub.broadcast(msg.Value)
			logger.Logger.Info().
				Str("kind", notice.Kind).
				Str("order_id", notice.OrderID).
				Msg("merchant notice pushed")
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Logger.Error().Err(err).Msg("commit notice offset failed")
		}
	}
}

func main() {
	logger.Init(serviceName)

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	sessionMgr := session.NewManager(cfg.Infra.Redis.Addrs)
	hub := newHub()
	go hub.run()

	ctx, cancel := context.WithCancel(context.Background())
	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NoticeTopic, consumerGroupID)
	go consumeNotices(ctx, reader, hub)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, sessionMgr, w, r)
	})
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	server := &http.Server{Addr: ":8088"}
	go func() {
		logger.Logger.Info().Str("node", nodeID).Msg("push gateway started on :8088")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal().Err(err).Msg("push gateway server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	reader.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	logger.Logger.Info().Msg("push gateway stopped")
}
