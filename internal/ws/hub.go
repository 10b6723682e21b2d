package ws

import (
	"sync"

	"github.com/UjanGuin/ZYLO-LINK/internal/metrics"
)

// Hub 独占持有 频道 -> 会话集合 的映射，是房间注册表与会话管理器。
// 频道名要么是房间号，要么是用户自己的 ID（个人频道，登录即订阅）。
// 所有订阅状态只能经由 Hub 的方法读写。
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Session]struct{}
	sessions map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]struct{}),
	}
}

// Register 登记新会话并隐式订阅其个人频道。
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
	h.subscribeLocked(s, s.userID)
	metrics.WsConnections.Inc()
}

// Unregister 把会话从所有频道移除并关闭其发送通道；断线后调用一次。
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	for ch := range s.channels {
		h.dropFromChannelLocked(s, ch)
	}
	metrics.WsConnections.Dec()
	h.mu.Unlock()
	s.close()
}

// Subscribe 把会话加入一个频道的扇出组；重复订阅无副作用。
func (h *Hub) Subscribe(s *Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	h.subscribeLocked(s, channel)
}

// Unsubscribe 把会话移出频道。
func (h *Hub) Unsubscribe(s *Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromChannelLocked(s, channel)
}

func (h *Hub) subscribeLocked(s *Session, channel string) {
	set := h.channels[channel]
	if set == nil {
		set = make(map[*Session]struct{})
		h.channels[channel] = set
	}
	set[s] = struct{}{}
	s.channels[channel] = struct{}{}
}

func (h *Hub) dropFromChannelLocked(s *Session, channel string) {
	if set, ok := h.channels[channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(s.channels, channel)
}

// Broadcast 把事件送达当前订阅该频道的每个会话，绝不触达其他会话。
// 发送是非阻塞的：写不进缓冲的慢客户端直接剔除。
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.channels[channel]))
	for s := range h.channels[channel] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	h.deliver(targets, payload)
}

// BroadcastAll 仅用于两类全局事件：头像变更通知所有在线会话。
func (h *Hub) BroadcastAll(payload []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	h.deliver(targets, payload)
}

func (h *Hub) deliver(targets []*Session, payload []byte) {
	var stale []*Session
	for _, s := range targets {
		if !s.trySend(payload) {
			stale = append(stale, s)
		}
	}
	for _, s := range stale {
		h.Unregister(s)
	}
}

// Online 返回频道当前订阅数，供监控与测试使用。
func (h *Hub) Online(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
