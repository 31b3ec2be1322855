package sse

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type SSEEvent string

const (
	SSEEventJobQueued      SSEEvent = "JobQueued"
	SSEEventJobProgress    SSEEvent = "JobProgress"
	SSEEventJobFailed      SSEEvent = "JobFailed"
	SSEEventJobCompleted   SSEEvent = "JobCompleted"
	SSEEventJobCancelled   SSEEvent = "JobCancelled"
	SSEEventSchemaActivated SSEEvent = "SchemaActivated"
)

// SSEMessage travels from services through the redis bus to every API node,
// then out to subscribed clients. Channel is the lab id.
type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

type SSEClient struct {
	ID       uuid.UUID
	LabID    uuid.UUID
	Outbound chan SSEMessage
}

type SSEHub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*SSEClient]bool
}

func NewSSEHub(baseLog *logger.Logger) *SSEHub {
	return &SSEHub{
		log:           baseLog.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*SSEClient]bool),
	}
}

func (hub *SSEHub) Subscribe(labID uuid.UUID) *SSEClient {
	client := &SSEClient{
		ID:       uuid.New(),
		LabID:    labID,
		Outbound: make(chan SSEMessage, 16),
	}
	channel := labID.String()

	hub.mu.Lock()
	defer hub.mu.Unlock()
	clients, exists := hub.subscriptions[channel]
	if !exists {
		clients = make(map[*SSEClient]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true
	hub.log.Debug("SSE client subscribed", "client_id", client.ID, "channel", channel)
	return client
}

func (hub *SSEHub) Unsubscribe(client *SSEClient) {
	if client == nil {
		return
	}
	channel := client.LabID.String()

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if clients, exists := hub.subscriptions[channel]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(hub.subscriptions, channel)
		}
	}
	close(client.Outbound)
}

// Broadcast fans a message out to every client on its channel. Slow clients
// drop messages rather than block the hub.
func (hub *SSEHub) Broadcast(msg SSEMessage) {
	channel := strings.TrimSpace(msg.Channel)
	if channel == "" {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for client := range hub.subscriptions[channel] {
		select {
		case client.Outbound <- msg:
		default:
			hub.log.Warn("SSE client buffer full, dropping message",
				"client_id", client.ID, "event", msg.Event)
		}
	}
}
