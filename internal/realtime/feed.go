package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
)

// NotificationSource is the subset of *pq.Listener the feed reads from.
type NotificationSource interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// ChangeFeed relays row changes announced with pg_notify to the
// subscribers of each tenant channel.
type ChangeFeed struct {
	source   NotificationSource
	channel  string
	broker   *Broker[models.ChangeEvent]
	pingEach time.Duration
	logger   zerolog.Logger
}

// NewListener opens a reconnecting LISTEN connection for the feed.
func NewListener(dsn string, minReconnect, maxReconnect time.Duration, logger zerolog.Logger) *pq.Listener {
	log := logger.With().Str("component", "pq_listener").Logger()
	return pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Info().Msg("listener connected")
		case pq.ListenerEventDisconnected:
			log.Warn().Err(err).Msg("listener disconnected")
		case pq.ListenerEventReconnected:
			log.Info().Msg("listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn().Err(err).Msg("listener connection attempt failed")
		}
	})
}

func NewChangeFeed(source NotificationSource, channel string, logger zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{
		source:   source,
		channel:  channel,
		broker:   NewBroker[models.ChangeEvent](64),
		pingEach: 90 * time.Second,
		logger:   logger.With().Str("component", "change_feed").Logger(),
	}
}

// Subscribe returns the changes published on a tenant channel.
func (f *ChangeFeed) Subscribe(ctx context.Context, channel string) <-chan models.ChangeEvent {
	return f.broker.Subscribe(ctx, channel)
}

// Run listens until ctx is cancelled.
func (f *ChangeFeed) Run(ctx context.Context) error {
	if err := f.source.Listen(f.channel); err != nil {
		return errors.Wrapf(err, "listen on %s", f.channel)
	}
	defer f.source.Close()

	f.logger.Info().Str("channel", f.channel).Msg("change feed started")

	ticker := time.NewTicker(f.pingEach)
	defer ticker.Stop()

	notifications := f.source.NotificationChannel()
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			// A nil notification follows a reconnect; changes made while
			// disconnected are lost.
			if n == nil {
				f.logger.Warn().Msg("change feed reconnected, events may have been missed")
				continue
			}
			f.dispatch(n.Extra)
		case <-ticker.C:
			if err := f.source.Ping(); err != nil {
				f.logger.Warn().Err(err).Msg("change feed ping failed")
			}
		case <-ctx.Done():
			f.logger.Info().Msg("change feed stopped")
			return nil
		}
	}
}

func (f *ChangeFeed) dispatch(payload string) {
	var evt models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		f.logger.Warn().Err(err).Msg("dropping malformed change payload")
		return
	}
	if evt.TenantID == "" {
		return
	}
	if string(evt.OldRecord) == "null" {
		evt.OldRecord = nil
	}
	f.broker.Publish(models.TenantChannel(evt.TenantID), evt)
}
