package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ladderbot/internal/ports"
	"github.com/betbot/ladderbot/pkg/sigchan"
	"github.com/betbot/ladderbot/pkg/syncgroup"
)

var streamLog = logrus.WithField("component", "broker_stream")

const (
	reconnectCoolDownPeriod = 15 * time.Second
	pingInterval            = 10 * time.Second
	readTimeout             = 30 * time.Second
	writeTimeout            = 10 * time.Second
)

// EventStream 券商事件流：单一读 goroutine 串行分发订单更新与网关通知，
// 天然保证「到达顺序处理」，不重排不合批。
type EventStream struct {
	url   string
	token string

	conn       *websocket.Conn
	connCtx    context.Context
	connCancel context.CancelFunc
	connMu     sync.Mutex

	reconnectC *sigchan.Chan
	closeC     chan struct{}
	closeOnce  sync.Once

	handlerMu       sync.RWMutex
	orderHandlers   []ports.OrderUpdateHandler
	gatewayHandlers []ports.GatewayMessageHandler
	reconnectedCbs  []func(ctx context.Context)

	sg     *syncgroup.SyncGroup // 长期 goroutine（reconnector）
	connSg *syncgroup.SyncGroup // 连接级 goroutine（read / ping）
}

func NewEventStream(cfg Config) *EventStream {
	return &EventStream{
		url:        cfg.StreamURL,
		token:      cfg.APIKey,
		reconnectC: sigchan.New(1),
		closeC:     make(chan struct{}),
		sg:         syncgroup.NewSyncGroup(),
		connSg:     syncgroup.NewSyncGroup(),
	}
}

// OnOrderUpdate 注册订单状态处理器（连接建立时一次性注册，运行期不重绑）
func (s *EventStream) OnOrderUpdate(h ports.OrderUpdateHandler) {
	if h == nil {
		return
	}
	s.handlerMu.Lock()
	s.orderHandlers = append(s.orderHandlers, h)
	s.handlerMu.Unlock()
}

// OnGatewayMessage 注册网关通知处理器
func (s *EventStream) OnGatewayMessage(h ports.GatewayMessageHandler) {
	if h == nil {
		return
	}
	s.handlerMu.Lock()
	s.gatewayHandlers = append(s.gatewayHandlers, h)
	s.handlerMu.Unlock()
}

// OnReconnected 注册重连成功回调（services 在此挂恢复/对账流程）
func (s *EventStream) OnReconnected(cb func(ctx context.Context)) {
	if cb == nil {
		return
	}
	s.handlerMu.Lock()
	s.reconnectedCbs = append(s.reconnectedCbs, cb)
	s.handlerMu.Unlock()
}

// Connect 建立连接并启动重连器
func (s *EventStream) Connect(ctx context.Context) error {
	s.sg.Add(func() { s.reconnector(ctx) })
	s.sg.Run()
	return s.dialAndConnect(ctx)
}

func (s *EventStream) Close() {
	s.closeOnce.Do(func() { close(s.closeC) })
	s.connMu.Lock()
	if s.connCancel != nil {
		s.connCancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.connMu.Unlock()
	s.connSg.Wait()
	s.sg.Wait()
}

func (s *EventStream) dialAndConnect(ctx context.Context) error {
	select {
	case <-s.closeC:
		return context.Canceled
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	header := map[string][]string{"Authorization": {"Bearer " + s.token}}
	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout * 2))
	})

	connCtx := s.setConn(ctx, conn)
	s.connSg.WaitAndClear()
	s.connSg.Add(func() { s.readLoop(connCtx, conn) })
	s.connSg.Add(func() { s.pingLoop(connCtx, conn) })
	s.connSg.Run()

	streamLog.Infof("✅ 券商事件流已连接: %s", s.url)
	return nil
}

// setConn 原子替换连接，旧连接的 goroutine 通过 context 取消退出
func (s *EventStream) setConn(ctx context.Context, conn *websocket.Conn) context.Context {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.connCancel != nil {
		s.connCancel()
	}
	connCtx, connCancel := context.WithCancel(ctx)
	s.conn = conn
	s.connCtx = connCtx
	s.connCancel = connCancel
	return connCtx
}

// Reconnect 触发重连（非阻塞）
func (s *EventStream) Reconnect() {
	s.reconnectC.Emit()
}

func (s *EventStream) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeC:
			return
		case <-s.reconnectC.C():
			streamLog.Warnf("🔄 收到重连信号，冷却 %s...", reconnectCoolDownPeriod)
			select {
			case <-s.closeC:
				return
			case <-ctx.Done():
				return
			case <-time.After(reconnectCoolDownPeriod):
			}
			if err := s.dialAndConnect(ctx); err != nil {
				streamLog.Errorf("❌ 重连失败: %v", err)
				s.Reconnect()
				continue
			}
			// 重连成功：断连期间的事件已丢失，走恢复与对账
			s.handlerMu.RLock()
			cbs := make([]func(ctx context.Context), len(s.reconnectedCbs))
			copy(cbs, s.reconnectedCbs)
			s.handlerMu.RUnlock()
			for _, cb := range cbs {
				cb(ctx)
			}
		}
	}
}

// envelope 事件流消息封包
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireGatewayMessage struct {
	OrderID int64  `json:"orderId"`
	Code    int    `json:"code"`
	Text    string `json:"text"`
}

func (s *EventStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeC:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout * 2))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-s.closeC:
			default:
				streamLog.Warnf("⚠️ 事件流读取失败: %v，触发重连", err)
				s.Reconnect()
			}
			return
		}
		s.dispatch(ctx, raw)
	}
}

// dispatch 串行分发一条消息。handler 返回错误只记日志，不中断流。
func (s *EventStream) dispatch(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		streamLog.Warnf("⚠️ 非法封包: %v", err)
		return
	}
	switch env.Type {
	case "orderStatus":
		var w wireOrder
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			streamLog.Warnf("⚠️ orderStatus 解析失败: %v", err)
			return
		}
		order := w.toDomain()
		s.handlerMu.RLock()
		handlers := make([]ports.OrderUpdateHandler, len(s.orderHandlers))
		copy(handlers, s.orderHandlers)
		s.handlerMu.RUnlock()
		for _, h := range handlers {
			if err := h.OnOrderUpdate(ctx, order); err != nil {
				streamLog.Errorf("❌ 订单更新处理失败: orderID=%d err=%v", order.OrderID, err)
			}
		}
	case "gatewayMessage":
		var w wireGatewayMessage
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			streamLog.Warnf("⚠️ gatewayMessage 解析失败: %v", err)
			return
		}
		msg := &ports.GatewayMessage{OrderID: w.OrderID, Code: w.Code, Text: w.Text}
		s.handlerMu.RLock()
		handlers := make([]ports.GatewayMessageHandler, len(s.gatewayHandlers))
		copy(handlers, s.gatewayHandlers)
		s.handlerMu.RUnlock()
		for _, h := range handlers {
			if err := h.OnGatewayMessage(ctx, msg); err != nil {
				streamLog.Errorf("❌ 网关通知处理失败: orderID=%d code=%d err=%v", msg.OrderID, msg.Code, err)
			}
		}
	default:
		// 心跳等未知类型静默忽略
	}
}

func (s *EventStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeC:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				streamLog.Warnf("⚠️ ping 失败: %v，触发重连", err)
				s.Reconnect()
				return
			}
		}
	}
}
