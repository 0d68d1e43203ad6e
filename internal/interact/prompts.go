package interact

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"coworkerbot/internal/core"
)

var (
	ErrPromptNotFound = errors.New("prompt not found")
	ErrPromptAborted  = errors.New("prompt aborted")
)

const recentLimit = 50

// Prompt is a confirmation waiting for an operator.
type Prompt struct {
	ID        string
	Title     string
	Message   string
	CreatedAt time.Time
}

// Notice is an informational, warning or error message shown to the operator.
type Notice struct {
	Level     string
	Title     string
	Message   string
	CreatedAt time.Time
}

type pending struct {
	prompt Prompt
	done   chan struct{}
	err    error
}

// Prompts is the headless UserInteraction used by the daemon. Confirmations
// are queued until acknowledged through the HTTP or MCP surface; warnings,
// errors and new prompts are forwarded to the notifier.
type Prompts struct {
	logger   *slog.Logger
	notifier core.Notifier
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*pending
	recent  []Notice
}

// NewPrompts returns a queue. notifier may be nil.
func NewPrompts(notifier core.Notifier, logger *slog.Logger) *Prompts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prompts{
		logger:   logger,
		notifier: notifier,
		now:      time.Now,
		pending:  make(map[string]*pending),
	}
}

func (p *Prompts) NotifyProgress(current, total int, message string) {
	p.logger.Debug("progress", "current", current, "total", total, "message", message)
}

func (p *Prompts) ShowInfo(title, message string) {
	p.remember("info", title, message)
	p.logger.Info(title, "message", message)
}

func (p *Prompts) ShowWarning(title, message string) {
	p.remember("warn", title, message)
	p.logger.Warn(title, "message", message)
	p.forward(title, message)
}

func (p *Prompts) ShowError(title, message string) {
	p.remember("error", title, message)
	p.logger.Error(title, "message", message)
	p.forward(title, message)
}

// ConfirmBlocking queues a prompt and waits until it is acknowledged, aborted
// or ctx ends.
func (p *Prompts) ConfirmBlocking(ctx context.Context, title, message string) error {
	item := &pending{
		prompt: Prompt{ID: core.NewID(), Title: title, Message: message, CreatedAt: p.now()},
		done:   make(chan struct{}),
	}
	p.mu.Lock()
	p.pending[item.prompt.ID] = item
	p.mu.Unlock()
	p.logger.Info("waiting for acknowledgement", "prompt_id", item.prompt.ID, "title", title)
	p.forward(title, message)

	select {
	case <-item.done:
		return item.err
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, item.prompt.ID)
		p.mu.Unlock()
		return ctx.Err()
	}
}

// List returns pending prompts, oldest first.
func (p *Prompts) List() []Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Prompt, 0, len(p.pending))
	for _, item := range p.pending {
		out = append(out, item.prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Ack releases the task waiting on the prompt.
func (p *Prompts) Ack(id string) error {
	p.mu.Lock()
	item, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return ErrPromptNotFound
	}
	close(item.done)
	p.logger.Info("prompt acknowledged", "prompt_id", id)
	return nil
}

// AbortAll releases every pending prompt with ErrPromptAborted and reports how
// many were waiting.
func (p *Prompts) AbortAll() int {
	p.mu.Lock()
	items := make([]*pending, 0, len(p.pending))
	for id, item := range p.pending {
		items = append(items, item)
		delete(p.pending, id)
	}
	p.mu.Unlock()
	for _, item := range items {
		item.err = ErrPromptAborted
		close(item.done)
	}
	if len(items) > 0 {
		p.logger.Info("pending prompts aborted", "count", len(items))
	}
	return len(items)
}

// Recent returns the latest notices, newest last.
func (p *Prompts) Recent() []Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notice(nil), p.recent...)
}

func (p *Prompts) remember(level, title, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, Notice{Level: level, Title: title, Message: message, CreatedAt: p.now()})
	if len(p.recent) > recentLimit {
		p.recent = p.recent[len(p.recent)-recentLimit:]
	}
}

func (p *Prompts) forward(title, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Send(context.Background(), title, message); err != nil {
		p.logger.Warn("forward notice", "title", title, "err", err)
	}
}
