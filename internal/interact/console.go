// Package interact provides core.UserInteraction implementations.
package interact

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Console prints to a writer and reads confirmations from a reader. It is
// meant for the one-shot run mode where a terminal is attached.
type Console struct {
	out    io.Writer
	logger *slog.Logger

	mu    sync.Mutex
	lines chan string
}

// NewConsole reads confirmations from in and writes messages to out.
func NewConsole(in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Console{out: out, logger: logger, lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
		close(c.lines)
	}()
	return c
}

func (c *Console) NotifyProgress(current, total int, message string) {
	c.printf("[%d/%d] %s\n", current, total, message)
}

func (c *Console) ShowInfo(title, message string) {
	c.printf("INFO  %s: %s\n", title, message)
}

func (c *Console) ShowWarning(title, message string) {
	c.printf("WARN  %s: %s\n", title, message)
}

func (c *Console) ShowError(title, message string) {
	c.printf("ERROR %s: %s\n", title, message)
}

// ConfirmBlocking prints the message and waits for Enter.
func (c *Console) ConfirmBlocking(ctx context.Context, title, message string) error {
	c.printf("\n== %s ==\n%s\n[press Enter to continue] ", title, message)
	c.logger.Info("waiting for console confirmation", "title", title)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-c.lines:
		if !ok {
			return io.ErrUnexpectedEOF
		}
		return nil
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
