package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sender delivers one mutation to the server. Implementations must be
// idempotent per (entry id, changed at); the drain loop will resend after
// crashes and timeouts.
type Sender interface {
	Send(ctx context.Context, m *Mutation) error
}

// Listener is notified when a mutation is acknowledged or terminally fails.
type Listener func(m Mutation, delivered bool)

// Drainer empties the queue against the server. Only one drain runs at a
// time: a trigger while a drain is in progress is a no-op, not a concurrent
// drain.
type Drainer struct {
	queue     *Queue
	sender    Sender
	logger    *slog.Logger
	mu        sync.Mutex
	listeners []Listener
	lmu       sync.Mutex
}

// NewDrainer creates a drainer over the queue.
func NewDrainer(queue *Queue, sender Sender, logger *slog.Logger) *Drainer {
	return &Drainer{
		queue:  queue,
		sender: sender,
		logger: logger,
	}
}

// Notify registers a listener for delivery outcomes.
func (d *Drainer) Notify(l Listener) {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Drain sends queued mutations in creation order, one at a time. Delivered
// mutations are removed and broadcast. On a send failure the retry counter is
// advanced and the drain stops; if the failure was the mutation's last allowed
// attempt it is marked failed, surfaced, and the drain moves on to the next
// mutation. Returns the number of mutations delivered.
func (d *Drainer) Drain(ctx context.Context) (int, error) {
	if !d.mu.TryLock() {
		d.logger.Debug("Drain already in progress, skipping")
		return 0, nil
	}
	defer d.mu.Unlock()

	pending, err := d.queue.Pending()
	if err != nil {
		return 0, err
	}

	delivered := 0
	for i := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		m := pending[i]

		if err := d.queue.SetStatus(m.ID, StatusProcessing); err != nil {
			return delivered, err
		}

		if sendErr := d.sender.Send(ctx, &m); sendErr != nil {
			terminal, recErr := d.queue.RecordFailure(m.ID, sendErr)
			if recErr != nil {
				return delivered, recErr
			}

			if terminal {
				d.logger.Warn("Mutation exhausted retries",
					slog.String("mutation_id", m.ID),
					slog.String("type", m.Type),
					slog.String("entry_id", m.EntryID),
					slog.String("error", sendErr.Error()),
				)
				d.broadcast(m, false)
				continue
			}

			d.logger.Info("Mutation delivery failed, will retry on next drain",
				slog.String("mutation_id", m.ID),
				slog.Int("retry_count", m.RetryCount+1),
				slog.String("error", sendErr.Error()),
			)
			return delivered, nil
		}

		if err := d.queue.Remove(m.ID); err != nil {
			return delivered, err
		}
		delivered++
		d.broadcast(m, true)
	}

	return delivered, nil
}

// Start runs periodic drains until ctx is canceled. Platforms with
// connectivity-restore hooks should additionally call Drain directly.
func (d *Drainer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx); err != nil {
				d.logger.Error("Drain failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (d *Drainer) broadcast(m Mutation, delivered bool) {
	d.lmu.Lock()
	listeners := append([]Listener(nil), d.listeners...)
	d.lmu.Unlock()

	for _, l := range listeners {
		l(m, delivered)
	}
}
