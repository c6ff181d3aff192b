package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
)

// Message is one named event on the live update stream.
type Message struct {
	Event string
	Data  json.RawMessage
}

// Hub routes stream messages to the connections of one tenant.
type Hub struct {
	broker *Broker[Message]
}

func NewHub() *Hub {
	return &Hub{broker: NewBroker[Message](32)}
}

// Publish encodes payload and sends it to every stream open for tenantID.
func (h *Hub) Publish(tenantID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", event)
	}
	h.broker.Publish(tenantID, Message{Event: event, Data: data})
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, tenantID string) <-chan Message {
	return h.broker.Subscribe(ctx, tenantID)
}

// UnreadCounter reports how many notifications a tenant has not read.
type UnreadCounter interface {
	CountUnread(ctx context.Context, tenantID string) (int, error)
}

// StreamServer writes the live update stream as server-sent events.
type StreamServer struct {
	hub       *Hub
	unread    UnreadCounter
	keepalive time.Duration
	logger    zerolog.Logger
}

func NewStreamServer(hub *Hub, unread UnreadCounter, keepalive time.Duration, logger zerolog.Logger) *StreamServer {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &StreamServer{
		hub:       hub,
		unread:    unread,
		keepalive: keepalive,
		logger:    logger.With().Str("component", "realtime_stream").Logger(),
	}
}

// Serve holds the connection open until the client goes away. The first
// events are always connected followed by the current unread_count.
func (s *StreamServer) Serve(w http.ResponseWriter, r *http.Request, tenantID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	events := s.hub.Subscribe(ctx, tenantID)

	s.write(w, models.StreamEventConnected, map[string]string{
		"tenant_id": tenantID,
		"channel":   models.TenantChannel(tenantID),
	})
	if s.unread != nil {
		count, err := s.unread.CountUnread(ctx, tenantID)
		if err != nil {
			s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to load unread count")
		} else {
			s.write(w, models.StreamEventUnreadCount, models.UnreadCount{Count: count})
		}
	}
	flusher.Flush()

	s.logger.Debug().Str("tenant_id", tenantID).Msg("stream opened")
	defer s.logger.Debug().Str("tenant_id", tenantID).Msg("stream closed")

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, msg.Event, msg.Data)
			flusher.Flush()
		case t := <-ticker.C:
			s.write(w, models.StreamEventKeepalive, map[string]int64{"ts": t.UnixMilli()})
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *StreamServer) write(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("failed to encode stream event")
		return
	}
	writeEvent(w, event, data)
}

func writeEvent(w http.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
