package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// 警报事件流。紧急联系人侧的看护页面订阅某个档案的实时事件：
// 警报打开、升级、解除、位置更新。

type client struct {
	id        string
	profileID string
	ch        chan string
	done      chan struct{}
}

// Hub SSE 连接管理，按档案分组投递
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	profiles map[string]map[string]*client // profileID -> clientID -> client
	interval time.Duration
	retryMs  int
}

func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		clients:  make(map[string]*client),
		profiles: make(map[string]map[string]*client),
		interval: pingInterval,
		retryMs:  5000,
	}
}

func (h *Hub) add(id, profileID string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &client{id: id, profileID: profileID, ch: make(chan string, 64), done: make(chan struct{})}
	h.clients[id] = c
	if h.profiles[profileID] == nil {
		h.profiles[profileID] = make(map[string]*client)
	}
	h.profiles[profileID][id] = c
	return c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	close(c.done)
	delete(h.profiles[c.profileID], id)
	if len(h.profiles[c.profileID]) == 0 {
		delete(h.profiles, c.profileID)
	}
	delete(h.clients, id)
}

// PublishToProfile 向档案的全部订阅端投递事件，慢客户端丢帧不阻塞
func (h *Hub) PublishToProfile(profileID, event string, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event, b)

	h.mu.RLock()
	for _, c := range h.profiles[profileID] {
		select {
		case c.ch <- msg:
		default:
		}
	}
	h.mu.RUnlock()
}

// SubscriberCount 档案当前订阅端数量
func (h *Hub) SubscriberCount(profileID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.profiles[profileID])
}

// Serve 保持 SSE 长连接直至客户端断开
func (h *Hub) Serve(c *gin.Context, clientID, profileID string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)
	flusher.Flush()

	cl := h.add(clientID, profileID)
	defer h.remove(clientID)

	ping := time.NewTicker(h.interval)
	defer ping.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-cl.ch:
			fmt.Fprint(c.Writer, msg)
			flusher.Flush()
		}
	}
}
