package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/sse"
)

type EventsHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewEventsHandler(baseLog *logger.Logger, hub *sse.SSEHub) *EventsHandler {
	return &EventsHandler{
		log: baseLog.With("handler", "EventsHandler"),
		hub: hub,
	}
}

/*
Stream holds the connection open and relays every event on the lab's channel
as a server-sent event. The stream ends when the client disconnects.
*/
func (h *EventsHandler) Stream(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		RespondError(c, http.StatusInternalServerError, "streaming_unsupported", fmt.Errorf("response writer does not support flushing"))
		return
	}

	client := h.hub.Subscribe(labID)
	defer h.hub.Unsubscribe(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"client_id\":%q}\n\n", client.ID)
	flusher.Flush()

	h.log.Info("SSE stream open", "lab_id", labID, "client_id", client.ID)
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("SSE stream closed", "lab_id", labID, "client_id", client.ID)
			return
		case msg, open := <-client.Outbound:
			if !open {
				return
			}
			payload, err := json.Marshal(msg.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Event, payload)
			flusher.Flush()
		}
	}
}
