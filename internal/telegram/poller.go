package telegram

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

type updateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// Poller feeds long-polled updates into an UpdateHandler.
type Poller struct {
	source  updateSource
	handler *UpdateHandler
	timeout time.Duration
	offset  int64
}

func NewPoller(source updateSource, handler *UpdateHandler, timeout time.Duration) *Poller {
	return &Poller{source: source, handler: handler, timeout: timeout}
}

// Run polls until ctx is cancelled, which is not an error. A failed poll is
// returned so the caller can decide when to restart; the offset survives the
// restart and acknowledged updates are not fetched again.
func (p *Poller) Run(ctx context.Context) error {
	log.Printf("polling for updates, timeout=%s", p.timeout)

	for {
		updates, err := p.source.GetUpdates(ctx, p.offset, p.timeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get updates: %w", err)
		}

		p.dispatch(ctx, updates)
	}
}

// dispatch handles one batch. Updates of one user stay in order; different
// users run in parallel. The batch is finished before the next poll.
func (p *Poller) dispatch(ctx context.Context, updates []Update) {
	if len(updates) == 0 {
		return
	}

	var order []int64
	byUser := make(map[int64][]Update)
	for _, u := range updates {
		if u.UpdateID >= p.offset {
			p.offset = u.UpdateID + 1
		}
		key := u.SenderID()
		if _, seen := byUser[key]; !seen {
			order = append(order, key)
		}
		byUser[key] = append(byUser[key], u)
	}

	var g errgroup.Group
	for _, key := range order {
		batch := byUser[key]
		g.Go(func() error {
			for _, u := range batch {
				p.handler.Handle(ctx, u)
			}
			return nil
		})
	}
	_ = g.Wait()
}
