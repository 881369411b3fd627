package ocr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives batch progress.
type ProgressCallback interface {
	// OnStart is called once with the number of pages in the batch.
	OnStart(total int)
	// OnPage is called after each page; done counts finished pages.
	OnPage(page, done, total int)
	// OnError is called when a page fails.
	OnError(page int, err error)
	// OnComplete is called when the batch ends, halted or not.
	OnComplete(result BatchResult)
}

// NoOpProgress ignores every event.
type NoOpProgress struct{}

func (NoOpProgress) OnStart(int)            {}
func (NoOpProgress) OnPage(int, int, int)   {}
func (NoOpProgress) OnError(int, error)     {}
func (NoOpProgress) OnComplete(BatchResult) {}

// ConsoleProgress draws a progress bar.
type ConsoleProgress struct {
	mu        sync.Mutex
	writer    io.Writer
	prefix    string
	width     int
	startTime time.Time
}

// NewConsoleProgress creates a console reporter writing to w (stderr when nil).
func NewConsoleProgress(w io.Writer, prefix string) *ConsoleProgress {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgress{writer: w, prefix: prefix, width: 30}
}

func (c *ConsoleProgress) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	_, _ = fmt.Fprintf(c.writer, "%s0/%d pages\n", c.prefix, total)
}

func (c *ConsoleProgress) OnPage(page, done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total <= 0 {
		return
	}
	filled := c.width * done / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	status := fmt.Sprintf("\r%s[%s] %d/%d (page %d)", c.prefix, bar, done, total, page+1)
	if elapsed := time.Since(c.startTime); done > 0 && done < total && elapsed > 0 {
		eta := time.Duration(float64(elapsed) * float64(total-done) / float64(done))
		status += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
	}
	_, _ = fmt.Fprint(c.writer, status)
}

func (c *ConsoleProgress) OnError(page int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sError on page %d: %v\n", c.prefix, page+1, err)
}

func (c *ConsoleProgress) OnComplete(result BatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.startTime).Round(time.Millisecond)
	if result.Halted {
		_, _ = fmt.Fprintf(c.writer, "\n%sHalted after %d pages in %v, resume from page %d\n",
			c.prefix, len(result.Pages), elapsed, result.ResumeFrom+2)
		return
	}
	_, _ = fmt.Fprintf(c.writer, "\n%sCompleted %d pages in %v\n", c.prefix, len(result.Pages), elapsed)
}

// LogProgress logs progress through slog.
type LogProgress struct {
	logger    *slog.Logger
	level     slog.Level
	startTime time.Time
}

// NewLogProgress creates a log reporter; a nil logger uses slog.Default().
func NewLogProgress(logger *slog.Logger, level slog.Level) *LogProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgress{logger: logger, level: level}
}

func (l *LogProgress) OnStart(total int) {
	l.startTime = time.Now()
	l.logger.Log(context.Background(), l.level, "Batch started", "pages", total)
}

func (l *LogProgress) OnPage(page, done, total int) {
	l.logger.Log(context.Background(), l.level, "Batch progress",
		"page", page, "done", done, "total", total,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgress) OnError(page int, err error) {
	l.logger.Log(context.Background(), slog.LevelError, "Batch page failed", "page", page, "error", err)
}

func (l *LogProgress) OnComplete(result BatchResult) {
	l.logger.Log(context.Background(), l.level, "Batch finished",
		"pages", len(result.Pages), "halted", result.Halted, "resume_from", result.ResumeFrom,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

// MultiProgress fans events out to several callbacks.
type MultiProgress []ProgressCallback

func (m MultiProgress) OnStart(total int) {
	for _, cb := range m {
		cb.OnStart(total)
	}
}

func (m MultiProgress) OnPage(page, done, total int) {
	for _, cb := range m {
		cb.OnPage(page, done, total)
	}
}

func (m MultiProgress) OnError(page int, err error) {
	for _, cb := range m {
		cb.OnError(page, err)
	}
}

func (m MultiProgress) OnComplete(result BatchResult) {
	for _, cb := range m {
		cb.OnComplete(result)
	}
}
