// internal/handler/websocket/hub.go
package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"trade-service/internal/domain"
	"trade-service/internal/pkg/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Implement proper origin checking
	},
}

// WSResponse is the envelope for every message pushed to a client.
type WSResponse struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// TicketEventHub is the notification port: after every ticket mutation the
// orchestrator pushes the fresh snapshot to both parties' open connections.
// Pushes are advisory; polling GET remains the authoritative read.
type TicketEventHub struct {
	logger *zap.Logger

	clientsMu sync.RWMutex
	clients   map[string]map[string]*Client // userID -> connID -> client
}

func NewTicketEventHub(logger *zap.Logger) *TicketEventHub {
	return &TicketEventHub{
		logger:  logger,
		clients: make(map[string]map[string]*Client),
	}
}

// HandleConnection upgrades an authenticated request and registers the
// connection for ticket pushes.
func (h *TicketEventHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		h.logger.Warn("Unauthorized WebSocket connection attempt")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 16),
		hub:    h,
	}
	h.register(client)

	client.SendJSON(&WSResponse{
		Type:    "connected",
		Success: true,
		Message: "Listening for ticket updates",
	})

	go client.writePump()
	go client.readPump()
}

// NotifyTicket pushes a ticket snapshot to every open connection of the
// given users. Slow consumers are dropped rather than blocking the caller.
func (h *TicketEventHub) NotifyTicket(userIDs []string, t *domain.Ticket) {
	payload, err := json.Marshal(&WSResponse{
		Type:    "ticket_update",
		Success: true,
		Data:    map[string]interface{}{"ticket": t},
	})
	if err != nil {
		h.logger.Error("Failed to marshal ticket update", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, userID := range userIDs {
		for _, client := range h.clients[userID] {
			select {
			case client.Send <- payload:
			default:
				h.logger.Warn("Dropping ticket update for slow client",
					zap.String("user_id", userID),
					zap.String("client_id", client.ID))
			}
		}
	}
}

func (h *TicketEventHub) register(c *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[string]*Client)
	}
	h.clients[c.UserID][c.ID] = c
	h.logger.Info("WebSocket client connected",
		zap.String("user_id", c.UserID),
		zap.String("client_id", c.ID))
}

func (h *TicketEventHub) unregister(c *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if conns, ok := h.clients[c.UserID]; ok {
		if _, ok := conns[c.ID]; ok {
			delete(conns, c.ID)
			close(c.Send)
			if len(conns) == 0 {
				delete(h.clients, c.UserID)
			}
		}
	}
	h.logger.Info("WebSocket client disconnected",
		zap.String("user_id", c.UserID),
		zap.String("client_id", c.ID))
}
