// Package bridge wires the call lifecycle monitor, recording locator,
// upload coordinator and remote command channel into one device bridge.
// A single event loop goroutine owns all session state; native events,
// dial requests, timer firings and background task completions are
// posted onto its queue, which preserves per-call ordering without
// locking the session map.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/recsync/recsync/internal/callmon"
	"github.com/recsync/recsync/internal/channel"
	"github.com/recsync/recsync/internal/journal"
	"github.com/recsync/recsync/internal/scanner"
	"github.com/recsync/recsync/internal/telephony"
	"github.com/recsync/recsync/internal/uploader"
)

// Dialer is the call-control collaborator that places outbound calls
// for remote dial requests. The native dial surface itself lives
// outside this core.
type Dialer interface {
	Dial(phoneNumber string) error
}

// Locator finds the recording written for a just-ended call.
type Locator interface {
	Locate(endedAt time.Time) *scanner.FileInfo
}

// Uploader delivers matched recordings and owns per-call upload state.
type Uploader interface {
	Submit(meta uploader.Metadata, file scanner.FileInfo)
	Forget(callID string)
	Close()
}

// ChannelFactory opens the duplex CRM link for a user. Init owns the
// channel lifecycle, so construction is deferred until the user id is
// known.
type ChannelFactory func(userID string, onDial channel.DialHandler) (channel.Channel, error)

// Options configures a Bridge. Monitor, Locator, Uploader, Dialer and
// OpenChannel are required; Journal is optional.
type Options struct {
	Monitor     *callmon.Monitor
	Locator     Locator
	Uploader    Uploader
	Dialer      Dialer
	OpenChannel ChannelFactory
	Journal     *journal.Journal
	Permissions Permissions
	SettleDelay time.Duration // wait after call end before locating; default 3s
	SessionTTL  time.Duration // maximum session lifetime; default 10m
	Logger      *slog.Logger
}

// Bridge is the orchestrator. One active bridge exists per device
// session; Init and Shutdown are its only lifecycle entry points.
type Bridge struct {
	opts   Options
	logger *slog.Logger

	events chan message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	finished bool
	userID   string
	channel  channel.Channel

	// loop-owned state; touched only by run().
	sessions map[string]*trackedSession
}

// New creates a Bridge. Call Init to start it.
func New(opts Options) (*Bridge, error) {
	if opts.Monitor == nil || opts.Locator == nil || opts.Uploader == nil ||
		opts.Dialer == nil || opts.OpenChannel == nil {
		return nil, errors.New("bridge: monitor, locator, uploader, dialer and channel factory are required")
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 3 * time.Second
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		opts:     opts,
		logger:   logger.With("component", "bridge"),
		events:   make(chan message, 128),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*trackedSession),
	}, nil
}

// Init starts the bridge for the given user: verifies device
// permissions, opens the remote command channel and begins consuming
// events. Calling Init again with the same user id is a no-op.
func (b *Bridge) Init(userID string) error {
	if userID == "" {
		return errors.New("bridge: user id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return errors.New("bridge: already shut down")
	}
	if b.running {
		if b.userID == userID {
			return nil
		}
		return fmt.Errorf("bridge: already initialized for user %s", b.userID)
	}

	if b.opts.Permissions != nil {
		if err := b.opts.Permissions.Check(); err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
	}

	ch, err := b.opts.OpenChannel(userID, func(req channel.DialRequest) {
		b.post(dialMsg{req: req})
	})
	if err != nil {
		return fmt.Errorf("bridge: opening command channel: %w", err)
	}

	b.userID = userID
	b.channel = ch
	b.running = true

	b.wg.Add(1)
	go b.run()

	b.logger.Info("bridge initialized", "user_id", userID)
	return nil
}

// Shutdown tears down the command channel, cancels pending settle and
// backoff timers and stops the event loop. In-flight scans and uploads
// are allowed to finish but their late completions are discarded.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	if !b.running || b.finished {
		b.mu.Unlock()
		return
	}
	b.finished = true
	ch := b.channel
	user := b.userID
	b.mu.Unlock()

	b.cancel()
	b.opts.Uploader.Close()
	b.wg.Wait()

	if ch != nil {
		if err := ch.Close(); err != nil {
			b.logger.Warn("closing command channel", "error", err)
		}
	}
	b.logger.Info("bridge shut down", "user_id", user)
}

// HandleNative feeds one raw native call-state notification into the
// bridge. Safe to call from any goroutine.
func (b *Bridge) HandleNative(evt telephony.RawEvent) {
	b.post(nativeMsg{evt: evt})
}

// UploadFinished reports a terminal upload outcome back into the event
// loop. Wire it as the upload coordinator's result callback.
func (b *Bridge) UploadFinished(res uploader.Result) {
	b.post(resultMsg{res: res})
}

func (b *Bridge) post(m message) {
	select {
	case b.events <- m:
	case <-b.ctx.Done():
	}
}
