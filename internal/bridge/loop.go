package bridge

import (
	"context"
	"time"

	"github.com/recsync/recsync/internal/callmon"
	"github.com/recsync/recsync/internal/channel"
	"github.com/recsync/recsync/internal/journal"
	"github.com/recsync/recsync/internal/scanner"
	"github.com/recsync/recsync/internal/telephony"
	"github.com/recsync/recsync/internal/uploader"
)

// Terminal session outcomes as journaled and pushed to the CRM.
const (
	outcomeUploaded    = "uploaded"
	outcomeFailed      = "failed"
	outcomeNoRecording = "no_recording"
	outcomeExpired     = "expired"
)

type message interface{ isMessage() }

type nativeMsg struct{ evt telephony.RawEvent }
type dialMsg struct{ req channel.DialRequest }
type settleMsg struct{ callID string }
type locateMsg struct {
	callID string
	file   *scanner.FileInfo
}
type resultMsg struct{ res uploader.Result }
type expireMsg struct{ callID string }

func (nativeMsg) isMessage() {}
func (dialMsg) isMessage()   {}
func (settleMsg) isMessage() {}
func (locateMsg) isMessage() {}
func (resultMsg) isMessage() {}
func (expireMsg) isMessage() {}

// trackedSession is the loop-owned record of one call from first native
// event to terminal outcome.
type trackedSession struct {
	callID      string
	number      string
	remote      bool
	startedAt   time.Time
	endedAt     time.Time
	duration    float64
	file        *scanner.FileInfo
	ended       bool
	settleTimer *time.Timer
	expireTimer *time.Timer
}

// run is the single consumer of the event queue. All session state
// lives here; background scans and uploads post their results back
// instead of mutating anything directly.
func (b *Bridge) run() {
	defer b.wg.Done()

	for {
		select {
		case msg := <-b.events:
			b.dispatch(msg)
		case <-b.ctx.Done():
			for _, s := range b.sessions {
				b.stopTimers(s)
			}
			return
		}
	}
}

func (b *Bridge) dispatch(msg message) {
	switch m := msg.(type) {
	case nativeMsg:
		b.handleNative(m.evt)
	case dialMsg:
		b.handleDial(m.req)
	case settleMsg:
		b.handleSettle(m.callID)
	case locateMsg:
		b.handleLocate(m.callID, m.file)
	case resultMsg:
		b.handleResult(m.res)
	case expireMsg:
		b.handleExpire(m.callID)
	}
}

func (b *Bridge) handleNative(evt telephony.RawEvent) {
	if evt.Phase() == telephony.PhaseUnknown {
		b.logger.Warn("dropping unknown native call state", "state", evt.State)
		return
	}

	for _, se := range b.opts.Monitor.Process(evt) {
		switch se.Kind {
		case callmon.SessionStarted:
			b.sessionStarted(se)
		case callmon.SessionEnded:
			b.sessionEnded(se)
		}
	}
}

func (b *Bridge) sessionStarted(se callmon.SessionEvent) {
	id := se.CallID
	s := &trackedSession{
		callID:    id,
		number:    se.PhoneNumber,
		remote:    se.Remote,
		startedAt: se.Timestamp,
	}
	s.expireTimer = time.AfterFunc(b.opts.SessionTTL, func() {
		b.post(expireMsg{callID: id})
	})
	b.sessions[id] = s

	b.logger.Info("call session started",
		"call_id", id, "remote", se.Remote, "number", se.PhoneNumber)
}

func (b *Bridge) sessionEnded(se callmon.SessionEvent) {
	s, ok := b.sessions[se.CallID]
	if !ok {
		// End event for a session the loop never saw start; track it
		// just long enough to attempt correlation.
		s = &trackedSession{callID: se.CallID, startedAt: se.StartedAt, remote: se.Remote}
		id := se.CallID
		s.expireTimer = time.AfterFunc(b.opts.SessionTTL, func() {
			b.post(expireMsg{callID: id})
		})
		b.sessions[se.CallID] = s
	}
	if s.ended {
		return
	}

	s.ended = true
	s.endedAt = se.Timestamp
	s.duration = se.Duration
	if s.number == "" {
		s.number = se.PhoneNumber
	}

	id := se.CallID
	s.settleTimer = time.AfterFunc(b.opts.SettleDelay, func() {
		b.post(settleMsg{callID: id})
	})

	b.logger.Info("call session ended, waiting for recorder to settle",
		"call_id", id, "settle_delay", b.opts.SettleDelay)
}

func (b *Bridge) handleDial(req channel.DialRequest) {
	b.opts.Monitor.SeedCallID(req.CallID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.opts.Dialer.Dial(req.PhoneNumber); err != nil {
			b.logger.Error("placing remote-requested call",
				"call_id", req.CallID, "error", err)
		}
	}()
}

func (b *Bridge) handleSettle(callID string) {
	s, ok := b.sessions[callID]
	if !ok {
		return
	}

	endedAt := s.endedAt
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		file := b.opts.Locator.Locate(endedAt)
		b.post(locateMsg{callID: callID, file: file})
	}()
}

func (b *Bridge) handleLocate(callID string, file *scanner.FileInfo) {
	s, ok := b.sessions[callID]
	if !ok {
		// Session torn down while the scan ran; discard.
		return
	}

	if file == nil {
		b.logger.Info("no recording found for call", "call_id", callID)
		b.closeSession(s, outcomeNoRecording, "", 0)
		return
	}

	s.file = file
	b.opts.Uploader.Submit(uploader.Metadata{
		CallID:      s.callID,
		Remote:      s.remote,
		PhoneNumber: s.number,
		EndedAt:     s.endedAt,
		Duration:    s.duration,
	}, *file)
}

func (b *Bridge) handleResult(res uploader.Result) {
	s, ok := b.sessions[res.CallID]
	if !ok {
		// Late completion for a torn-down session; discard.
		return
	}

	outcome := outcomeUploaded
	errText := ""
	if res.Status != uploader.StatusUploaded {
		outcome = outcomeFailed
		if res.Err != nil {
			errText = res.Err.Error()
		}
	}
	b.closeSession(s, outcome, errText, res.Attempts)
}

func (b *Bridge) handleExpire(callID string) {
	s, ok := b.sessions[callID]
	if !ok {
		return
	}

	b.logger.Warn("session exceeded maximum lifetime, dropping",
		"call_id", callID, "ended", s.ended)
	b.closeSession(s, outcomeExpired, "", 0)
}

// closeSession journals the terminal outcome, pushes a best-effort
// status update to the CRM and drops the session from tracking.
func (b *Bridge) closeSession(s *trackedSession, outcome, errText string, attempts int) {
	b.stopTimers(s)
	delete(b.sessions, s.callID)
	b.opts.Uploader.Forget(s.callID)

	if b.opts.Journal != nil {
		entry := journal.Entry{
			CallID:       s.callID,
			PhoneNumber:  s.number,
			Remote:       s.remote,
			StartedAt:    s.startedAt.UnixMilli(),
			EndedAt:      s.endedAt.UnixMilli(),
			Duration:     s.duration,
			UploadStatus: outcome,
			UploadError:  errText,
			Attempts:     attempts,
		}
		if s.file != nil {
			entry.RecordingPath = s.file.Path
		}
		if err := b.opts.Journal.Record(b.ctx, entry); err != nil {
			b.logger.Error("journaling session outcome", "call_id", s.callID, "error", err)
		}
	}

	b.notify(channel.StatusUpdate{
		CallID:    s.callID,
		Status:    outcome,
		Error:     errText,
		Timestamp: time.Now().UnixMilli(),
	})

	b.logger.Info("session closed", "call_id", s.callID, "outcome", outcome)
}

// notify pushes a status update without blocking the loop. Failures are
// logged and forgotten; status delivery never gates the upload flow.
func (b *Bridge) notify(update channel.StatusUpdate) {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ch.Notify(ctx, update); err != nil {
			b.logger.Warn("status push failed",
				"call_id", update.CallID, "status", update.Status, "error", err)
		}
	}()
}

func (b *Bridge) stopTimers(s *trackedSession) {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	if s.expireTimer != nil {
		s.expireTimer.Stop()
	}
}
