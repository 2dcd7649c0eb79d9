package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lyzr/datasync/cmd/datasync/catalog"
	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/cmd/datasync/planner"
	"github.com/lyzr/datasync/cmd/datasync/progress"
	"github.com/lyzr/datasync/cmd/datasync/remote"
	"github.com/lyzr/datasync/common/config"
	dserrors "github.com/lyzr/datasync/common/errors"
	"github.com/lyzr/datasync/common/logger"
	"github.com/lyzr/datasync/common/telemetry"
)

// Conn is the websocket surface a session needs; *websocket.Conn
// satisfies it
type Conn interface {
	progress.Conn
	ReadJSON(v any) error
	SetReadLimit(limit int64)
}

// Driver runs dataset sessions over websocket connections
type Driver struct {
	catalog   *catalog.Catalog
	planner   *planner.Planner
	source    remote.DataSource
	cfg       config.SessionConfig
	publisher progress.Publisher
	log       *logger.Logger
	telemetry *telemetry.Telemetry
}

// NewDriver creates a session driver. publisher may be nil.
func NewDriver(
	cat *catalog.Catalog,
	pl *planner.Planner,
	src remote.DataSource,
	cfg config.SessionConfig,
	publisher progress.Publisher,
	log *logger.Logger,
	tel *telemetry.Telemetry,
) *Driver {
	return &Driver{
		catalog:   cat,
		planner:   pl,
		source:    src,
		cfg:       cfg,
		publisher: publisher,
		log:       log,
		telemetry: tel,
	}
}

const (
	reasonCancelled    = "cancelled"
	reasonDisconnected = "client disconnected"
)

// TopicFor returns the redis channel that mirrors a session's events
func TopicFor(sessionID string) string {
	return "dataset:events:" + sessionID
}

// Run drives one session until its terminal event is sent or the client
// goes away. Dataset work outlives the connection: a cancel or disconnect
// only stops reporting.
func (d *Driver) Run(ctx context.Context, conn Conn) {
	sessionID := uuid.NewString()
	log := d.log.WithSession(sessionID)
	start := time.Now()
	defer d.telemetry.RecordDuration("session", start)

	opts := progress.Options{WriteWait: d.cfg.WriteWait}
	if d.publisher != nil {
		opts.Publisher = d.publisher
		opts.Topic = TopicFor(sessionID)
	}
	ch := progress.New(conn, opts, log)

	if d.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(d.cfg.MaxMessageSize)
	}

	var req models.SessionRequest
	if err := conn.ReadJSON(&req); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			ch.MarkClosed()
			ch.CloseWith(websocket.CloseNormalClosure, "")
			return
		}
		d.reject(ch, log, fmt.Sprintf("invalid session request: %v", err))
		return
	}

	ids, missing, window, err := d.prepare(req)
	if err != nil {
		d.reject(ch, log, err.Error())
		return
	}

	log.Info("session started",
		"datasets", len(ids),
		"missing", missing,
		"window", window.String(),
	)
	d.telemetry.RecordEvent("session_started", map[string]any{"session_id": sessionID, "datasets": len(ids)})

	ch.StartHeartbeat(d.cfg.HeartbeatInterval)

	pending := make([]models.DatasetResult, len(ids))
	for i, id := range ids {
		pending[i] = models.DatasetResult{Name: id.Name, RID: id.ExternalID, Phase: models.PhasePending}
	}
	first := progress.Event{
		Type:     progress.EventUpdate,
		Success:  true,
		Message:  resolvedMessage(ids, missing),
		Datasets: pending,
		Missing:  missing,
	}
	if err := ch.Send(first); err != nil {
		log.Debug("first update not delivered", "error", err)
	}

	gone := d.watch(conn, ch, log)

	workCtx := context.WithoutCancel(ctx)
	var mu sync.Mutex
	results := append([]models.DatasetResult(nil), pending...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		for i, id := range ids {
			g.Go(func() error {
				r := d.process(workCtx, ch, log, id, window)
				mu.Lock()
				results[i] = r
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
	}()

	cancelled := false
	select {
	case <-done:
	case reason := <-gone:
		log.Info("session reporting stopped, work continues in background", "reason", reason)
		if reason != reasonCancelled {
			ch.CloseWith(websocket.CloseNormalClosure, reason)
			return
		}
		cancelled = true
	}

	ch.StopHeartbeat()

	mu.Lock()
	snapshot := append([]models.DatasetResult(nil), results...)
	mu.Unlock()

	failed, finished := 0, 0
	for _, r := range snapshot {
		switch {
		case r.Success:
			finished++
		case r.Phase == models.PhaseFailed:
			finished++
			failed++
		}
	}
	final := progress.Event{
		Type:     progress.EventFinal,
		Success:  !cancelled && failed == 0,
		Message:  finalMessage(len(snapshot), failed),
		Datasets: snapshot,
		Missing:  missing,
	}
	closeReason := ""
	if cancelled {
		final.Message = cancelledMessage(len(snapshot), finished)
		closeReason = reasonCancelled
	}
	if err := ch.Send(final); err != nil {
		log.Debug("final event not delivered", "error", err)
	}
	ch.CloseWith(websocket.CloseNormalClosure, closeReason)

	log.Info("session finished",
		"failed", failed,
		"cancelled", cancelled,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// prepare validates the initial request and resolves its names
func (d *Driver) prepare(req models.SessionRequest) ([]models.Identity, []string, models.Window, error) {
	if len(req.Names) == 0 {
		return nil, nil, models.Window{}, dserrors.NewInvalidRequest("no dataset names given")
	}
	window, err := req.Window(d.planner.Now())
	if err != nil {
		return nil, nil, models.Window{}, dserrors.NewInvalidRequest(err.Error())
	}
	ids, missing := d.catalog.Resolve(req.Names)
	if len(ids) == 0 {
		return nil, nil, models.Window{}, dserrors.NewNotFound("datasets", strings.Join(missing, ", "))
	}
	return ids, missing, window, nil
}

// reject ends a session that could not start with an error event and a
// policy-violation close
func (d *Driver) reject(ch *progress.Channel, log *logger.Logger, message string) {
	log.Warn("session rejected", "reason", message)
	if err := ch.Error(message); err != nil {
		log.Debug("error event not delivered", "error", err)
	}
	ch.CloseWith(websocket.ClosePolicyViolation, "session rejected")
}

// watch reads control messages after the session started. The returned
// channel yields once, when the client cancels or disconnects. A cancelled
// session still gets its final event; a disconnected one gets nothing.
func (d *Driver) watch(conn Conn, ch *progress.Channel, log *logger.Logger) <-chan string {
	gone := make(chan string, 1)
	go func() {
		for {
			var msg models.ControlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !ch.Closed() {
					ch.MarkClosed()
					gone <- reasonDisconnected
				}
				return
			}
			if msg.Cancel {
				log.Info("session cancelled by client")
				ch.Cancel()
				gone <- reasonCancelled
				return
			}
		}
	}()
	return gone
}

// process runs one dataset through the planner. Failures stay local to the
// dataset.
func (d *Driver) process(ctx context.Context, ch *progress.Channel, log *logger.Logger, id models.Identity, w models.Window) models.DatasetResult {
	dlog := log.WithDataset(id.Name, id.ExternalID)

	report := func(phase models.Phase) {
		var msg string
		switch phase {
		case models.PhaseUnzipping:
			msg = fmt.Sprintf("unzipping %s", id.Name)
		case models.PhaseFetching:
			msg = fmt.Sprintf("fetching %s", id.Name)
		case models.PhaseZipping:
			msg = fmt.Sprintf("transcoding %s", id.Name)
		default:
			dlog.Debug("phase", "phase", phase)
			return
		}
		if err := ch.Update(id.Name, phase, msg); err != nil {
			dlog.Debug("update not delivered", "phase", phase, "error", err)
		}
	}

	result := models.DatasetResult{Name: id.Name, RID: id.ExternalID}

	checksum, err := d.planner.Ensure(ctx, id, w, d.source, report)
	if err != nil {
		dlog.Error("dataset failed", "error", err)
		result.Phase = models.PhaseFailed
		result.Error = err.Error()
		result.Code = string(dserrors.CodeOf(err))
		if sendErr := ch.Update(id.Name, models.PhaseFailed, fmt.Sprintf("%s failed: %v", id.Name, err)); sendErr != nil {
			dlog.Debug("failure update not delivered", "error", sendErr)
		}
		return result
	}

	dlog.Info("dataset ready", "sha256", checksum)
	result.Phase = models.PhaseReady
	result.Success = true
	result.Checksum = checksum
	return result
}

func resolvedMessage(ids []models.Identity, missing []string) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.Name
	}
	msg := fmt.Sprintf("resolved %d dataset(s): %s", len(ids), strings.Join(names, ", "))
	if len(missing) > 0 {
		msg += fmt.Sprintf("; unknown: %s", strings.Join(missing, ", "))
	}
	return msg
}

func finalMessage(total, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("all %d dataset(s) ready", total)
	}
	return fmt.Sprintf("%d of %d dataset(s) failed", failed, total)
}

func cancelledMessage(total, finished int) string {
	return fmt.Sprintf("session cancelled: %d of %d dataset(s) finished", finished, total)
}
