package live

import (
	"github.com/stanstork/autorun-api/internal/models"
)

const (
	maxNotifications = 10
	maxRetired       = 256
	maxSeen          = 256
)

// Snapshot is a copy of the client's view, safe to hand to UI code.
type Snapshot struct {
	Connected      bool                      `json:"connected"`
	FeedConnected  bool                      `json:"feed_connected"`
	UnreadCount    int                       `json:"unread_count"`
	PendingReviews int                       `json:"pending_reviews"`
	Notifications  []models.Notification     `json:"notifications"`
	Runs           []models.AutomationUpdate `json:"runs"`
}

// ReviewEvent is emitted when an item enters or leaves the review queue.
type ReviewEvent struct {
	Table   string `json:"table"`
	ID      string `json:"id"`
	Queued  bool   `json:"queued"`
	Pending int    `json:"pending"`
}

// idRing remembers the most recent ids up to a fixed size.
type idRing struct {
	limit int
	order []string
	set   map[string]struct{}
}

func newIDRing(limit int) *idRing {
	return &idRing{limit: limit, set: make(map[string]struct{})}
}

func (r *idRing) has(id string) bool {
	_, ok := r.set[id]
	return ok
}

func (r *idRing) add(id string) {
	if r.has(id) {
		return
	}
	r.set[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > r.limit {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
}

// state is the merged view of both transports. It is owned by the client's
// event loop and never touched concurrently.
type state struct {
	connected      bool
	feedConnected  bool
	unread         int
	pendingReviews int
	notifications  []models.Notification
	runs           []models.AutomationUpdate

	// Runs already removed after reaching a terminal status. A late copy of
	// the same update from the other transport must not bring them back.
	retired *idRing
	// Notification ids already counted, so one insert seen on both
	// transports bumps the unread count once.
	seen *idRing
	// Runs with a pending removal timer.
	removing map[string]struct{}
}

func newState() *state {
	return &state{
		retired:  newIDRing(maxRetired),
		seen:     newIDRing(maxSeen),
		removing: make(map[string]struct{}),
	}
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		Connected:      s.connected,
		FeedConnected:  s.feedConnected,
		UnreadCount:    s.unread,
		PendingReviews: s.pendingReviews,
		Notifications:  make([]models.Notification, len(s.notifications)),
		Runs:           make([]models.AutomationUpdate, len(s.runs)),
	}
	copy(snap.Notifications, s.notifications)
	copy(snap.Runs, s.runs)
	return snap
}

func (s *state) indexOf(runID string) int {
	for i, r := range s.runs {
		if r.RunID == runID {
			return i
		}
	}
	return -1
}

// applyUpdate merges a run update. It reports whether the list changed and
// whether the caller should schedule the run's removal.
func (s *state) applyUpdate(u models.AutomationUpdate) (changed, scheduleRemoval bool) {
	if u.RunID == "" || s.retired.has(u.RunID) {
		return false, false
	}

	idx := s.indexOf(u.RunID)
	if idx < 0 {
		if u.Status != models.RunStatusRunning {
			return false, false
		}
		s.runs = append([]models.AutomationUpdate{u}, s.runs...)
		return true, false
	}

	current := s.runs[idx]
	if current.Status.IsTerminal() && !u.Status.IsTerminal() {
		return false, false
	}
	if u.AutomationName == "" {
		u.AutomationName = current.AutomationName
	}
	s.runs[idx] = u

	if u.Status.IsTerminal() {
		if _, pending := s.removing[u.RunID]; !pending {
			s.removing[u.RunID] = struct{}{}
			return true, true
		}
	}
	return true, false
}

// removeRun drops a run from the list once its grace period is over.
func (s *state) removeRun(runID string) bool {
	delete(s.removing, runID)
	s.retired.add(runID)
	idx := s.indexOf(runID)
	if idx < 0 {
		return false
	}
	s.runs = append(s.runs[:idx], s.runs[idx+1:]...)
	return true
}

// addNotification prepends n and bumps the unread count. Duplicates are
// ignored.
func (s *state) addNotification(n models.Notification) bool {
	if n.ID != "" {
		if s.seen.has(n.ID) {
			return false
		}
		s.seen.add(n.ID)
	}
	s.notifications = append([]models.Notification{n}, s.notifications...)
	if len(s.notifications) > maxNotifications {
		s.notifications = s.notifications[:maxNotifications]
	}
	if n.ReadAt == nil {
		s.unread++
	}
	return true
}

func (s *state) setUnread(count int) {
	if count < 0 {
		count = 0
	}
	s.unread = count
}

func (s *state) queueReview() int {
	s.pendingReviews++
	return s.pendingReviews
}

func (s *state) dequeueReview() int {
	if s.pendingReviews > 0 {
		s.pendingReviews--
	}
	return s.pendingReviews
}
