package server

import (
	cmap "github.com/orcaman/concurrent-map"
)

// Hub 连接 id -> *Client
type Hub struct {
	conns cmap.ConcurrentMap
}

func NewHub() *Hub {
	return &Hub{conns: cmap.New()}
}

func (h *Hub) Add(c *Client) { h.conns.Set(c.id, c) }

func (h *Hub) Remove(id string) { h.conns.Remove(id) }

func (h *Hub) Get(id string) (*Client, bool) {
	v, ok := h.conns.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

func (h *Hub) Count() int { return h.conns.Count() }

// Send 发给单个连接；连接已断开时忽略
func (h *Hub) Send(id, event string, data any) {
	if c, ok := h.Get(id); ok {
		c.Send(event, data)
	}
}

// Deliver 发给一组连接，每种编码只编码一次
func (h *Hub) Deliver(ids []string, event string, data any) {
	// 按 protocol.Codec 取值下标缓存
	var encoded [2][]byte
	for _, id := range ids {
		c, ok := h.Get(id)
		if !ok {
			continue
		}
		b := encoded[c.codec]
		if b == nil {
			var err error
			b, err = c.codec.Encode(event, data)
			if err != nil {
				Log.Errorf("encode %s failed: %v", event, err)
				return
			}
			encoded[c.codec] = b
		}
		c.Enqueue(b)
	}
}

// CloseAll 关闭全部连接（退出时）
func (h *Hub) CloseAll() {
	for _, v := range h.conns.Items() {
		v.(*Client).Close()
	}
}
