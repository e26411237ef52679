package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message was processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type ConsumerOptions struct {
	Brokers []string
	Group   string
	Topic   string
	Workers int
	// MaxAttempts bounds how often a failing message is handed to the
	// handler before it is logged and committed.
	MaxAttempts int
	Backoff     time.Duration
}

type Consumer struct {
	r           *kafka.Reader
	workers     int
	maxAttempts int
	backoff     time.Duration
	log         *slog.Logger
}

func NewConsumer(opts ConsumerOptions, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        opts.Brokers,
		GroupID:        opts.Group,
		Topic:          opts.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if log == nil {
		log = slog.Default()
	}
	c := &Consumer{
		r:           r,
		workers:     max(opts.Workers, 1),
		maxAttempts: max(opts.MaxAttempts, 1),
		backoff:     opts.Backoff,
		log:         log.With("topic", opts.Topic, "group", opts.Group),
	}
	if c.backoff <= 0 {
		c.backoff = 500 * time.Millisecond
	}
	return c
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	defer close(jobs)

	for i := 0; i < c.workers; i++ {
		go func() {
			for m := range jobs {
				if !c.handle(ctx, h, m) {
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Warn("commit failed", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
			}
		}()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// handle runs h with linear backoff and reports whether the offset should be
// committed. A message that keeps failing is committed after the last attempt
// so it cannot stall its partition.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		if attempt >= c.maxAttempts {
			c.log.Error("giving up on message", "partition", m.Partition, "offset", m.Offset,
				"key", string(m.Key), "attempts", attempt, "err", err)
			return true
		}
		c.log.Warn("handler failed, retrying", "partition", m.Partition, "offset", m.Offset,
			"attempt", attempt, "err", err)
		t := time.NewTimer(time.Duration(attempt) * c.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}
