// Package uploader delivers matched recordings to the CRM. Each call
// session gets at most one attempt sequence: up to MaxAttempts tries
// with capped exponential backoff, after which the upload is terminally
// Uploaded or Failed. A failed upload never re-triggers correlation.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/recsync/recsync/internal/scanner"
)

// Status of one session's upload.
type Status string

const (
	StatusNotAttempted Status = "not_attempted"
	StatusUploading    Status = "uploading"
	StatusUploaded     Status = "uploaded"
	StatusFailed       Status = "failed"
)

// Metadata accompanies the recording bytes.
type Metadata struct {
	CallID      string
	Remote      bool // CallID was assigned by the CRM via a dial request
	PhoneNumber string
	EndedAt     time.Time
	Duration    float64 // seconds; zero when unknown
}

// Result is the terminal outcome of one submission.
type Result struct {
	CallID   string
	Status   Status
	Attempts int
	Err      error
	File     scanner.FileInfo
}

// Options configures a Coordinator.
type Options struct {
	BaseURL     string
	Token       string        // bearer token; empty means no Authorization header
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // backoff before the second try, doubling; default 2s
	MaxDelay    time.Duration // backoff cap; default 30s
	Client      *http.Client
	Logger      *slog.Logger
	// OnResult is invoked once per submission with the terminal outcome.
	// It runs on the upload goroutine; implementations must not block.
	OnResult func(Result)
}

// Coordinator owns the upload state of every session it has seen and
// enforces the single-attempt-sequence guard.
type Coordinator struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	status map[string]Status
}

// New creates a Coordinator. Close releases its background work.
func New(opts Options) *Coordinator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:   opts,
		logger: logger.With("component", "uploader"),
		ctx:    ctx,
		cancel: cancel,
		status: make(map[string]Status),
	}
}

// Status returns the upload status for the given call id.
func (c *Coordinator) Status(callID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.status[callID]; ok {
		return st
	}
	return StatusNotAttempted
}

// Forget drops the tracked status for a torn-down session.
func (c *Coordinator) Forget(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.status, callID)
}

// Submit starts the attempt sequence for a session's matched file.
// Fire-and-forget: the terminal outcome is reported through OnResult
// and observable via Status. A session already Uploading or Uploaded is
// a no-op, so a re-delivered correlation trigger cannot start a second
// transfer sequence. The guard check and the transition to Uploading
// are a single critical section.
func (c *Coordinator) Submit(meta Metadata, file scanner.FileInfo) {
	c.mu.Lock()
	if st := c.status[meta.CallID]; st == StatusUploading || st == StatusUploaded {
		c.mu.Unlock()
		c.logger.Debug("duplicate submit ignored", "call_id", meta.CallID, "status", st)
		return
	}
	c.status[meta.CallID] = StatusUploading
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.deliver(meta, file)
	}()
}

// Close cancels pending backoff timers and waits for in-flight tries to
// wind down. Late completions are discarded, not reported.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) deliver(meta Metadata, file scanner.FileInfo) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		lastErr = c.post(meta, file)
		if lastErr == nil {
			c.finish(Result{
				CallID:   meta.CallID,
				Status:   StatusUploaded,
				Attempts: attempt,
				File:     file,
			})
			return
		}

		c.logger.Warn("upload attempt failed",
			"call_id", meta.CallID, "attempt", attempt,
			"max_attempts", c.opts.MaxAttempts, "error", lastErr)

		if attempt == c.opts.MaxAttempts {
			break
		}

		if !c.backoff(attempt) {
			// Torn down mid-sequence; do not surface a terminal result.
			c.logger.Debug("upload cancelled during backoff", "call_id", meta.CallID)
			return
		}
	}

	c.finish(Result{
		CallID:   meta.CallID,
		Status:   StatusFailed,
		Attempts: c.opts.MaxAttempts,
		Err:      lastErr,
		File:     file,
	})
}

// backoff sleeps for the delay before the next try. Returns false when
// the coordinator was closed while waiting.
func (c *Coordinator) backoff(attempt int) bool {
	delay := c.opts.BaseDelay << (attempt - 1)
	if delay > c.opts.MaxDelay {
		delay = c.opts.MaxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Coordinator) finish(res Result) {
	c.mu.Lock()
	c.status[res.CallID] = res.Status
	c.mu.Unlock()

	if res.Status == StatusUploaded {
		c.logger.Info("recording uploaded",
			"call_id", res.CallID, "attempts", res.Attempts, "path", res.File.Path)
	} else {
		c.logger.Error("upload failed after all attempts",
			"call_id", res.CallID, "attempts", res.Attempts, "error", res.Err)
	}

	if c.opts.OnResult != nil {
		c.opts.OnResult(res)
	}
}

// post performs one transfer try. Any network error or non-2xx response
// fails the try.
func (c *Coordinator) post(meta Metadata, file scanner.FileInfo) error {
	body, contentType, err := buildForm(meta, file)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.endpoint(meta), body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("posting recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	return nil
}

// endpoint picks the completion route for server-assigned call ids and
// the generic recording route otherwise.
func (c *Coordinator) endpoint(meta Metadata) string {
	if meta.Remote {
		return fmt.Sprintf("%s/api/calls/%s/complete", c.opts.BaseURL, url.PathEscape(meta.CallID))
	}
	return c.opts.BaseURL + "/api/upload/recording"
}

func buildForm(meta Metadata, file scanner.FileInfo) (*bytes.Buffer, string, error) {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, "", fmt.Errorf("reading recording: %w", err)
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	part, err := w.CreateFormFile("recording", file.Name)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("writing form file: %w", err)
	}

	number := meta.PhoneNumber
	if number == "" {
		number = "Unknown"
	}
	fields := map[string]string{
		"phoneNumber": number,
		"timestamp":   strconv.FormatInt(meta.EndedAt.UnixMilli(), 10),
		"duration":    strconv.FormatInt(int64(meta.Duration), 10),
		"status":      "completed",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return body, w.FormDataContentType(), nil
}
