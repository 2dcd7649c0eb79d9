package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/datasync/cmd/datasync/models"
	dserrors "github.com/lyzr/datasync/common/errors"
	"github.com/lyzr/datasync/common/logger"
)

// EventType is the "type" field of an outbound event
type EventType string

const (
	EventUpdate    EventType = "update"
	EventFinal     EventType = "final"
	EventError     EventType = "error"
	EventKeepalive EventType = "keepalive"
)

// Terminal reports whether t ends the session
func (t EventType) Terminal() bool {
	return t == EventFinal || t == EventError
}

// Event is one outbound frame
type Event struct {
	Type     EventType              `json:"type"`
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Dataset  string                 `json:"dataset,omitempty"`
	Phase    models.Phase           `json:"phase,omitempty"`
	Checksum string                 `json:"sha256,omitempty"`
	Datasets []models.DatasetResult `json:"datasets,omitempty"`
	Missing  []string               `json:"missing,omitempty"`
}

// Conn is the part of *websocket.Conn the channel writes through
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Publisher mirrors events to an external bus
type Publisher interface {
	PublishEvent(ctx context.Context, channel string, message string) error
}

// Options configures a Channel
type Options struct {
	WriteWait time.Duration
	// Publisher and Topic enable mirroring of every event sent
	Publisher Publisher
	Topic     string
}

// Channel serializes every write to one connection. At most one terminal
// event is ever written. Once the peer is gone every send fails with
// CHANNEL_CLOSED; once the channel is cancelled only the terminal event
// still goes out.
type Channel struct {
	conn Conn
	opts Options
	log  *logger.Logger

	mu        sync.Mutex
	closed    bool
	cancelled bool
	terminal  bool

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// New wraps conn
func New(conn Conn, opts Options, log *logger.Logger) *Channel {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	return &Channel{conn: conn, opts: opts, log: log}
}

// Send writes ev. A second terminal event is refused.
func (c *Channel) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return dserrors.NewChannelClosed(nil)
	}
	if c.cancelled && !ev.Type.Terminal() {
		return dserrors.NewChannelClosed(fmt.Errorf("cancelled, dropping %s", ev.Type))
	}
	if c.terminal {
		return dserrors.NewChannelClosed(fmt.Errorf("terminal event already sent, dropping %s", ev.Type))
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		c.closed = true
		c.log.Debug("progress write failed, channel closed", "error", err)
		return dserrors.NewChannelClosed(err)
	}
	if ev.Type.Terminal() {
		c.terminal = true
	}

	c.mirror(ev)
	return nil
}

func (c *Channel) mirror(ev Event) {
	if c.opts.Publisher == nil || c.opts.Topic == "" {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteWait)
	defer cancel()
	if err := c.opts.Publisher.PublishEvent(ctx, c.opts.Topic, string(data)); err != nil {
		c.log.Warn("event mirror publish failed", "topic", c.opts.Topic, "error", err)
	}
}

// Update sends a phase update for one dataset
func (c *Channel) Update(dataset string, phase models.Phase, message string) error {
	return c.Send(Event{
		Type:    EventUpdate,
		Success: phase != models.PhaseFailed,
		Message: message,
		Dataset: dataset,
		Phase:   phase,
	})
}

// Final sends the terminal event of a session that ran
func (c *Channel) Final(success bool, message string, results []models.DatasetResult) error {
	return c.Send(Event{
		Type:     EventFinal,
		Success:  success,
		Message:  message,
		Datasets: results,
	})
}

// Error sends the terminal event of a session that could not start
func (c *Channel) Error(message string) error {
	return c.Send(Event{Type: EventError, Success: false, Message: message})
}

// StartHeartbeat sends a keepalive every interval until StopHeartbeat or
// until a send fails
func (c *Channel) StartHeartbeat(interval time.Duration) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if c.hbCancel != nil || interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.hbCancel = cancel
	c.hbDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := c.Send(Event{Type: EventKeepalive, Success: true, Message: "keepalive"})
				if err != nil {
					return
				}
			}
		}
	}()
}

// StopHeartbeat cancels the heartbeat and waits for it to exit
func (c *Channel) StopHeartbeat() {
	c.hbMu.Lock()
	cancel, done := c.hbCancel, c.hbDone
	c.hbCancel, c.hbDone = nil, nil
	c.hbMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Cancel stops progress reporting. The terminal event can still be sent,
// and the connection stays open until CloseWith.
func (c *Channel) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
}

// MarkClosed records that the peer went away
func (c *Channel) MarkClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Closed reports whether sends are refused
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.cancelled
}

// CloseWith stops the heartbeat, sends a close frame with code when the
// peer is still there, and closes the connection
func (c *Channel) CloseWith(code int, reason string) error {
	c.StopHeartbeat()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait)); err != nil {
			c.log.Debug("close frame not delivered", "error", err)
		}
	}
	c.closed = true
	return c.conn.Close()
}
