package burner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/textlayer"
)

// DefaultTimeout bounds a single burn.
const DefaultTimeout = 2 * time.Minute

// Command is one message to the worker.
type Command struct {
	Kind    Kind
	Request Request
	reply   chan result
}

type result struct {
	resp Response
	err  error
}

// Worker runs burns one at a time on its own goroutine. A burn that panics
// or exceeds the timeout is rejected once with ErrBurnFailed and the worker
// keeps serving.
type Worker struct {
	cmds     chan Command
	quit     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	timeout  time.Duration
	measurer textlayer.Measurer
	burn     func(Kind, Request, textlayer.Measurer) (Response, error)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.timeout = d }
}

// WithMeasurer sets the text measurer used to scale OCR text.
func WithMeasurer(m textlayer.Measurer) WorkerOption {
	return func(w *Worker) { w.measurer = m }
}

// NewWorker starts a worker.
func NewWorker(opts ...WorkerOption) *Worker {
	w := &Worker{
		cmds:    make(chan Command),
		quit:    make(chan struct{}),
		timeout: DefaultTimeout,
		burn:    Burn,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.measurer == nil {
		if m, err := textlayer.NewFontMeasurer(); err == nil {
			w.measurer = m
		} else {
			slog.Warn("OCR text will not be width-scaled", "error", err)
		}
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case cmd := <-w.cmds:
			w.execute(cmd)
		}
	}
}

func (w *Worker) execute(cmd Command) {
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				workerFailures.WithLabelValues("panic").Inc()
				slog.Error("Burn panicked", "kind", cmd.Kind, "panic", r)
				done <- result{err: fmt.Errorf("%w: worker panic: %v", ErrBurnFailed, r)}
			}
		}()
		resp, err := w.burn(cmd.Kind, cmd.Request, w.measurer)
		done <- result{resp: resp, err: err}
	}()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		cmd.reply <- r
	case <-timer.C:
		workerFailures.WithLabelValues("timeout").Inc()
		slog.Error("Burn timed out", "kind", cmd.Kind, "timeout", w.timeout)
		cmd.reply <- result{err: fmt.Errorf("%w: timed out after %v", ErrBurnFailed, w.timeout)}
	}
}

// Submit hands req to the worker and waits for the result. The source
// buffer is moved into the command: req.Source is nil when Submit returns.
func (w *Worker) Submit(ctx context.Context, kind Kind, req *Request) (Response, error) {
	cmd := Command{Kind: kind, Request: *req, reply: make(chan result, 1)}
	req.Source = nil

	select {
	case <-w.quit:
		return Response{}, ErrWorkerClosed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case w.cmds <- cmd:
	}

	select {
	case r := <-cmd.reply:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Close stops the worker after the running burn.
func (w *Worker) Close() {
	w.once.Do(func() {
		close(w.quit)
		w.wg.Wait()
	})
}
