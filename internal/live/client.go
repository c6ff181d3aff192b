package live

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/realtime"
)

// Callbacks receive UI-relevant events. They run on the client's event
// loop one at a time and must not call back into the client.
type Callbacks struct {
	OnNotification     func(models.Notification)
	OnAutomationUpdate func(models.AutomationUpdate)
	OnReviewQueue      func(ReviewEvent)
	OnUnreadCount      func(int)
	OnConnectionChange func(transport string, connected bool)
}

type Options struct {
	// Stream is the server-sent event transport; Changes is the change
	// feed. Either may be nil.
	Stream    Transport
	Changes   Transport
	Scheduler Scheduler
	Logger    zerolog.Logger
	Callbacks Callbacks
}

// link tracks one transport's connection attempts.
type link struct {
	transport Transport
	stream    bool
	attempt   int
	gen       int
	connected bool
	cancel    context.CancelFunc
	retry     Timer
}

// Client merges both live transports into one view and keeps them
// connected. All state is owned by a single event-loop goroutine.
type Client struct {
	sched  Scheduler
	cb     Callbacks
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	links    []*link
	state    *state
	removals map[string]Timer
	closed   bool
	final    Snapshot

	actions   chan func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a client and starts its event loop. Call Start to connect.
func New(opts Options) *Client {
	sched := opts.Scheduler
	if sched == nil {
		sched = realScheduler{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		sched:    sched,
		cb:       opts.Callbacks,
		logger:   opts.Logger.With().Str("component", "live_client").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		state:    newState(),
		removals: make(map[string]Timer),
		actions:  make(chan func(), 64),
		done:     make(chan struct{}),
	}
	if opts.Stream != nil {
		c.links = append(c.links, &link{transport: opts.Stream, stream: true})
	}
	if opts.Changes != nil {
		c.links = append(c.links, &link{transport: opts.Changes})
	}
	go c.loop()
	return c
}

// Start connects every transport.
func (c *Client) Start() {
	c.post(func() {
		for _, l := range c.links {
			c.connect(l)
		}
	})
}

// Reconnect drops both connections and dials again immediately with the
// backoff reset.
func (c *Client) Reconnect() {
	c.post(func() {
		for _, l := range c.links {
			l.attempt = 0
			c.setConnected(l, false)
			c.connect(l)
		}
	})
}

// Close tears down both transports and cancels every pending timer. No
// callback runs after Close returns.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.post(c.shutdown)
		<-c.done
		c.wg.Wait()
	})
}

// Snapshot returns a copy of the current view.
func (c *Client) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !c.post(func() { reply <- c.state.snapshot() }) {
		return c.final
	}
	select {
	case snap := <-reply:
		return snap
	case <-c.done:
		return c.final
	}
}

func (c *Client) loop() {
	defer close(c.done)
	for f := range c.actions {
		f()
		if c.closed {
			return
		}
	}
}

func (c *Client) post(f func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.actions <- f:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) shutdown() {
	c.closed = true
	c.cancel()
	for _, l := range c.links {
		if l.retry != nil {
			l.retry.Stop()
			l.retry = nil
		}
	}
	for id, t := range c.removals {
		t.Stop()
		delete(c.removals, id)
	}
	c.final = c.state.snapshot()
}

func (c *Client) connect(l *link) {
	if c.closed {
		return
	}
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	gen := l.gen

	ctx, cancel := context.WithCancel(c.ctx)
	l.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := l.transport.Run(ctx,
			func() { c.post(func() { c.opened(l, gen) }) },
			func(env Envelope) {
				c.post(func() {
					if l.gen == gen {
						c.handle(env)
					}
				})
			})
		c.post(func() { c.failed(l, gen, err) })
	}()
}

func (c *Client) opened(l *link, gen int) {
	if l.gen != gen {
		return
	}
	l.attempt = 0
	c.setConnected(l, true)
	c.logger.Info().Str("transport", l.transport.Name()).Msg("connected")
}

func (c *Client) failed(l *link, gen int, err error) {
	if l.gen != gen || c.closed {
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	c.setConnected(l, false)

	delay := Backoff(l.attempt)
	l.attempt++
	c.logger.Warn().Err(err).
		Str("transport", l.transport.Name()).
		Int("attempt", l.attempt).
		Dur("retry_in", delay).
		Msg("connection lost")

	l.retry = c.sched.AfterFunc(delay, func() {
		c.post(func() {
			if l.gen == gen {
				c.connect(l)
			}
		})
	})
}

func (c *Client) setConnected(l *link, connected bool) {
	if l.connected == connected {
		return
	}
	l.connected = connected
	if l.stream {
		c.state.connected = connected
	} else {
		c.state.feedConnected = connected
	}
	if c.cb.OnConnectionChange != nil {
		c.cb.OnConnectionChange(l.transport.Name(), connected)
	}
}

func (c *Client) handle(env Envelope) {
	switch env.Event {
	case models.StreamEventNotification:
		var n models.Notification
		if c.decode(env.Event, env.Data, &n) {
			c.addNotification(n)
		}
	case models.StreamEventAutomationUpdate:
		var u models.AutomationUpdate
		if c.decode(env.Event, env.Data, &u) {
			c.applyUpdate(u)
		}
	case models.StreamEventUnreadCount:
		var uc models.UnreadCount
		if c.decode(env.Event, env.Data, &uc) {
			c.state.setUnread(uc.Count)
			if c.cb.OnUnreadCount != nil {
				c.cb.OnUnreadCount(c.state.unread)
			}
		}
	case models.StreamEventConnected, models.StreamEventKeepalive:
	case realtime.FrameChange:
		if env.Change != nil {
			c.handleChange(*env.Change)
		}
	default:
		c.logger.Debug().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

type taskRecord struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	ReviewStatus models.ReviewStatus `json:"review_status"`
}

func (c *Client) handleChange(ch models.ChangeEvent) {
	switch ch.Table {
	case models.TableAutomationRuns:
		var run models.AutomationRun
		if c.decode(ch.Table, ch.Record, &run) {
			c.applyUpdate(models.UpdateFromRun(run, ""))
		}
	case models.TableAgentTasks:
		var task, old taskRecord
		if !c.decode(ch.Table, ch.Record, &task) {
			return
		}
		if len(ch.OldRecord) > 0 {
			_ = json.Unmarshal(ch.OldRecord, &old)
		}
		if awaitingReview(task) && !awaitingReview(old) {
			c.emitReview(ch.Table, task.ID, true, c.state.queueReview())
		}
	case models.TableAIActionLogs:
		var entry, old taskRecord
		if !c.decode(ch.Table, ch.Record, &entry) {
			return
		}
		if len(ch.OldRecord) > 0 {
			_ = json.Unmarshal(ch.OldRecord, &old)
		}
		wasPending := old.ReviewStatus == models.ReviewPending
		isPending := entry.ReviewStatus == models.ReviewPending
		switch {
		case isPending && !wasPending:
			c.emitReview(ch.Table, entry.ID, true, c.state.queueReview())
		case wasPending && !isPending:
			c.emitReview(ch.Table, entry.ID, false, c.state.dequeueReview())
		}
	case models.TableNotifications:
		if ch.Type != models.ChangeInsert {
			return
		}
		var n models.Notification
		if c.decode(ch.Table, ch.Record, &n) {
			c.addNotification(n)
		}
	}
}

func awaitingReview(t taskRecord) bool {
	return t.Status == "completed" && t.ReviewStatus == models.ReviewPending
}

func (c *Client) applyUpdate(u models.AutomationUpdate) {
	changed, scheduleRemoval := c.state.applyUpdate(u)
	if changed && c.cb.OnAutomationUpdate != nil {
		c.cb.OnAutomationUpdate(c.state.runs[c.state.indexOf(u.RunID)])
	}
	if scheduleRemoval {
		runID := u.RunID
		c.removals[runID] = c.sched.AfterFunc(removalDelay, func() {
			c.post(func() {
				delete(c.removals, runID)
				c.state.removeRun(runID)
			})
		})
	}
}

func (c *Client) addNotification(n models.Notification) {
	if !c.state.addNotification(n) {
		return
	}
	if c.cb.OnNotification != nil {
		c.cb.OnNotification(n)
	}
	if c.cb.OnUnreadCount != nil {
		c.cb.OnUnreadCount(c.state.unread)
	}
}

func (c *Client) emitReview(table, id string, queued bool, pending int) {
	if c.cb.OnReviewQueue != nil {
		c.cb.OnReviewQueue(ReviewEvent{Table: table, ID: id, Queued: queued, Pending: pending})
	}
}

func (c *Client) decode(what string, raw json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Warn().Err(err).Str("event", what).Msg("dropping malformed payload")
		return false
	}
	return true
}
