package stream

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler processes one stream entry. A nil return acknowledges the entry; an
// error leaves it pending for redelivery.
type Handler func(ctx context.Context, entry Entry) error

// Source is the consumer-group surface a Runner drives. *Client satisfies it.
type Source interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Consume(ctx context.Context, args ConsumeArgs) ([]Entry, error)
	Ack(ctx context.Context, stream, group, id string) error
}

var _ Source = (*Client)(nil)

// RunnerConfig parameterizes a consumer-group loop.
type RunnerConfig struct {
	Name     string // used in logs ("worker", "dispatcher")
	Stream   string
	Group    string
	Consumer string

	// Count and Block tune each XREADGROUP call (zero = package defaults).
	Count int64
	Block time.Duration

	// MaxConcurrency bounds in-flight handlers. Zero means 10.
	MaxConcurrency int
}

// Runner consumes a stream through a consumer group and hands entries to a
// Handler with bounded concurrency. Entries are acknowledged only after the
// handler returns nil; failed entries stay pending.
type Runner struct {
	source  Source
	cfg     RunnerConfig
	handler Handler
}

// NewRunner builds a Runner. The handler must be safe for concurrent use.
func NewRunner(source Source, cfg RunnerConfig, handler Handler) *Runner {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.Name == "" {
		cfg.Name = "consumer"
	}
	return &Runner{source: source, cfg: cfg, handler: handler}
}

// Run blocks consuming entries until ctx is canceled. In-flight handlers are
// waited for before returning.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.source.EnsureGroup(ctx, r.cfg.Stream, r.cfg.Group); err != nil {
		return err
	}

	slog.Info("stream consumer started",
		"name", r.cfg.Name,
		"stream", r.cfg.Stream,
		"group", r.cfg.Group,
		"consumer", r.cfg.Consumer,
		"max_concurrency", r.cfg.MaxConcurrency)

	var pool errgroup.Group
	pool.SetLimit(r.cfg.MaxConcurrency)

	for ctx.Err() == nil {
		entries, err := r.source.Consume(ctx, ConsumeArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			Count:    r.cfg.Count,
			Block:    r.cfg.Block,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("stream consume failed", "name", r.cfg.Name, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, entry := range entries {
			pool.Go(func() error {
				r.process(ctx, entry)
				return nil
			})
		}
	}

	_ = pool.Wait()
	slog.Info("stream consumer stopped", "name", r.cfg.Name, "stream", r.cfg.Stream)
	return ctx.Err()
}

func (r *Runner) process(ctx context.Context, entry Entry) {
	if err := r.handler(ctx, entry); err != nil {
		// Stays pending; the group redelivers it later.
		slog.Error("entry handling failed, not acknowledging",
			"name", r.cfg.Name,
			"stream", r.cfg.Stream,
			"entry_id", entry.ID,
			"error", err)
		return
	}
	if err := r.source.Ack(ctx, r.cfg.Stream, r.cfg.Group, entry.ID); err != nil {
		slog.Error("ack failed", "name", r.cfg.Name, "entry_id", entry.ID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
