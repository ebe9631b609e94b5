package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"agroscan/internal/logger"
	"agroscan/internal/model"
	"agroscan/internal/service/camera"

	"github.com/gorilla/websocket"
)

const MessageTypeCamera = "camera"

// CameraMessage is pushed to a user's viewers whenever their camera changes.
type CameraMessage struct {
	Type      string           `json:"type"`
	User      string           `json:"user"`
	State     camera.State     `json:"state"`
	FPS       int              `json:"fps"`
	Detection *model.Detection `json:"detection"`
}

type client struct {
	conn   *websocket.Conn
	userID string
}

type envelope struct {
	userID  string
	payload []byte
}

// HubService fans camera updates out to connected viewers of the same user.
type HubService struct {
	clients    map[*websocket.Conn]*client
	broadcast  chan envelope
	register   chan *client
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan envelope, 64),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register/unregister/broadcast until ctx is cancelled, then
// closes every connection.
func (h *HubService) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() {
		close(h.done)
		h.closeAll()
	})

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected for %s. Total: %d", c.userID, total)

		case conn := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", total)

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for conn, c := range h.clients {
				if c.userID != msg.userID {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a viewer. After the hub has stopped the connection is closed instead.
func (h *HubService) Register(conn *websocket.Conn, userID string) {
	select {
	case h.register <- &client{conn: conn, userID: userID}:
	case <-h.done:
		conn.Close()
	}
}

func (h *HubService) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues a payload for the user's viewers. Payloads are dropped when
// the queue is full so camera callers never block on slow viewers.
func (h *HubService) Broadcast(userID string, payload []byte) {
	select {
	case h.broadcast <- envelope{userID: userID, payload: payload}:
	default:
		h.logger.Warning("Broadcast queue full, dropping update for %s", userID)
	}
}

// PublishCamera encodes a camera status and broadcasts it.
func (h *HubService) PublishCamera(userID string, status camera.Status) {
	payload, err := json.Marshal(CameraMessage{
		Type:      MessageTypeCamera,
		User:      userID,
		State:     status.State,
		FPS:       status.FPS,
		Detection: status.Detection,
	})
	if err != nil {
		h.logger.Error("Error encoding camera update: %v", err)
		return
	}
	h.Broadcast(userID, payload)
}

// CameraListener returns a camera.Options listener bound to the user.
func (h *HubService) CameraListener(userID string) func(camera.Status) {
	return func(status camera.Status) {
		h.PublishCamera(userID, status)
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
