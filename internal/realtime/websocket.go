package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// Frame types exchanged on the change-feed socket.
const (
	FrameSubscribe  = "subscribe"
	FrameSubscribed = "subscribed"
	FrameChange     = "change"
	FrameError      = "error"
)

// Frame is a server-to-client change-feed message.
type Frame struct {
	Type    string              `json:"type"`
	Channel string              `json:"channel,omitempty"`
	Change  *models.ChangeEvent `json:"change,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// FeedServer upgrades dashboard connections and streams the tenant's
// matching row changes over a websocket.
type FeedServer struct {
	feed     *ChangeFeed
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewFeedServer(feed *ChangeFeed, allowedOrigins []string, logger zerolog.Logger) *FeedServer {
	return &FeedServer{
		feed: feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With().Str("component", "change_feed_ws").Logger(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve handles one socket. The client must open with a subscribe frame
// naming its own tenant channel.
func (s *FeedServer) Serve(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var sub models.SubscribeFrame
	if err := conn.ReadJSON(&sub); err != nil {
		s.logger.Debug().Err(err).Msg("no subscribe frame")
		return
	}
	want := models.TenantChannel(tenantID)
	if sub.Type != FrameSubscribe || sub.Channel != want {
		s.reject(conn, "subscribe to "+want)
		return
	}
	bindings, err := compileBindings(sub.Bindings)
	if err != nil {
		s.reject(conn, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	changes := s.feed.Subscribe(ctx, want)

	// Reads only serve to process pongs and notice the client leaving.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug().Err(err).Msg("change feed socket closed")
				}
				return
			}
		}
	}()

	if err := s.send(conn, Frame{Type: FrameSubscribed, Channel: want}); err != nil {
		return
	}
	s.logger.Debug().Str("tenant_id", tenantID).Int("bindings", len(bindings)).Msg("change feed subscribed")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-changes:
			if !ok {
				return
			}
			if !matchAny(bindings, evt) {
				continue
			}
			change := evt
			if err := s.send(conn, Frame{Type: FrameChange, Channel: want, Change: &change}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *FeedServer) send(conn *websocket.Conn, frame Frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func (s *FeedServer) reject(conn *websocket.Conn, reason string) {
	_ = s.send(conn, Frame{Type: FrameError, Error: reason})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait))
}
