package live

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/realtime"
)

const (
	writeWait = 10 * time.Second
	readWait  = 70 * time.Second
)

// DefaultBindings are the row changes the dashboard listens for.
func DefaultBindings() []models.ChangeBinding {
	return []models.ChangeBinding{
		{Table: models.TableAutomationRuns, Events: []string{models.ChangeInsert, models.ChangeUpdate}},
		{Table: models.TableAgentTasks, Events: []string{models.ChangeUpdate}, Filter: "status=eq.completed"},
		{Table: models.TableAIActionLogs, Events: []string{models.ChangeUpdate}},
		{Table: models.TableNotifications, Events: []string{models.ChangeInsert}},
	}
}

// ChangeTransport subscribes to the tenant's change feed over a websocket.
type ChangeTransport struct {
	URL      string
	Token    string
	TenantID string
	Bindings []models.ChangeBinding
	Dialer   *websocket.Dialer
}

func (t *ChangeTransport) Name() string { return "changes" }

func (t *ChangeTransport) Run(ctx context.Context, onOpen func(), deliver func(Envelope)) error {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "dial change feed (status %d)", resp.StatusCode)
		}
		return errors.Wrap(err, "dial change feed")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	bindings := t.Bindings
	if len(bindings) == 0 {
		bindings = DefaultBindings()
	}
	channel := models.TenantChannel(t.TenantID)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(models.SubscribeFrame{
		Type:     realtime.FrameSubscribe,
		Channel:  channel,
		Bindings: bindings,
	}); err != nil {
		return errors.Wrap(err, "send subscribe frame")
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var frame realtime.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "read change feed")
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		switch frame.Type {
		case realtime.FrameSubscribed:
			onOpen()
		case realtime.FrameChange:
			if frame.Change != nil {
				deliver(Envelope{Event: realtime.FrameChange, Change: frame.Change})
			}
		case realtime.FrameError:
			return fmt.Errorf("change feed refused subscription: %s", frame.Error)
		}
	}
}
