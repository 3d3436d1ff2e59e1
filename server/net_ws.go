package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"realmarena/protocol"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendQueue  = 64
	readLimit  = 1 << 20 // 1MB
)

// Client 一个 WebSocket 连接。send 队列由 writePump 独占写出。
type Client struct {
	id      string
	ws      *websocket.Conn
	codec   protocol.Codec
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	once    sync.Once
	// dropped 队列满时回调（指标）
	dropped func()
}

func newClient(ws *websocket.Conn, codec protocol.Codec, limiter *rate.Limiter) *Client {
	return &Client{
		id:      uuid.NewString(),
		ws:      ws,
		codec:   codec,
		send:    make(chan []byte, sendQueue),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// ID 连接标识，也是玩家 id
func (c *Client) ID() string { return c.id }

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *Client) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		// 为了实时性直接丢弃，不阻塞房间 actor 和其他连接
		if c.dropped != nil {
			c.dropped()
		}
		return false
	}
}

// Send 按该连接的编码发送一条事件
func (c *Client) Send(event string, data any) {
	b, err := c.codec.Encode(event, data)
	if err != nil {
		Log.Errorf("encode %s failed: %v", event, err)
		return
	}
	c.Enqueue(b)
}

// Close 可重复调用；send 通道不关闭，其他协程仍可能在 Enqueue
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(frame, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息交给 Server 分发；退出即视为断开
func (c *Client) readPump(s *Server) {
	defer func() {
		c.Close()
		s.disconnect(c)
	}()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Debugf("read error: conn=%s err=%v", c.id, err)
			}
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			s.metrics.Dropped.WithLabelValues("rate").Inc()
			continue
		}
		in, err := protocol.Decode(payload, mt == websocket.BinaryMessage)
		if err != nil {
			s.metrics.Dropped.WithLabelValues("malformed").Inc()
			continue
		}
		s.dispatch(c, in)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 房间服务不区分来源，前端与服务分开部署
		return true
	},
}

// HandleWS WebSocket 接入：/ws?codec=json|msgpack
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	codec := s.opts.Codec
	if q := r.URL.Query().Get("codec"); q != "" {
		codec = protocol.ParseCodec(q)
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}

	c := newClient(ws, codec, rate.NewLimiter(rate.Limit(s.opts.InboundRate), s.opts.InboundBurst))
	c.dropped = func() { s.metrics.Dropped.WithLabelValues("queue_full").Inc() }
	s.hub.Add(c)
	s.metrics.Connections.Inc()
	Log.Debugf("connected: conn=%s codec=%s remote=%s", c.id, codec, r.RemoteAddr)

	go c.writePump()
	go c.readPump(s)
}
