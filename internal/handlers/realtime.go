package handlers

import (
	"net/http"

	"github.com/stanstork/autorun-api/internal/realtime"
)

// RealtimeHandler serves the two live transports for the caller's tenant.
type RealtimeHandler struct {
	stream *realtime.StreamServer
	feed   *realtime.FeedServer
}

func NewRealtimeHandler(stream *realtime.StreamServer, feed *realtime.FeedServer) *RealtimeHandler {
	return &RealtimeHandler{stream: stream, feed: feed}
}

func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	h.stream.Serve(w, r, tenantID)
}

func (h *RealtimeHandler) Changes(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	h.feed.Serve(w, r, tenantID)
}
