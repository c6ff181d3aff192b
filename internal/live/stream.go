package live

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/stanstork/autorun-api/internal/models"
)

// Envelope is one inbound message from either transport. Stream messages
// carry Event and Data; change-feed messages carry Change.
type Envelope struct {
	Event  string
	Data   json.RawMessage
	Change *models.ChangeEvent
}

// Transport is one live connection. Run blocks until the connection fails
// or ctx is cancelled; it calls onOpen once the connection is usable and
// deliver for every message.
type Transport interface {
	Name() string
	Run(ctx context.Context, onOpen func(), deliver func(Envelope)) error
}

// ErrStreamClosed is returned when the server ends the stream.
var ErrStreamClosed = errors.New("stream closed by server")

// StreamTransport reads the server-sent event stream.
type StreamTransport struct {
	URL    string
	Token  string
	Client *http.Client
}

func (t *StreamTransport) Name() string { return "stream" }

func (t *StreamTransport) Run(ctx context.Context, onOpen func(), deliver func(Envelope)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return errors.Wrap(err, "build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "open stream")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}
	onOpen()

	err = readEvents(resp.Body, deliver)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readEvents parses an event stream until EOF. Only the event and data
// fields are used; comment lines are skipped.
func readEvents(r io.Reader, deliver func(Envelope)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if event == "" {
					event = "message"
				}
				deliver(Envelope{Event: event, Data: json.RawMessage(strings.Join(data, "\n"))})
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read stream")
	}
	return ErrStreamClosed
}
