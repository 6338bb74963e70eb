package transport

import (
	"context"
	"time"

	"chatrelay/pkg/envelope"
	"chatrelay/pkg/logger"
)

// FetchFunc produces the events a polling pass discovered: implementations
// snapshot backend state (balance, latest messages) and diff it against the
// previous pass. Poll order may differ from push order; consumers dedup.
type FetchFunc func(ctx context.Context) ([]envelope.Event, error)

// poller runs the degraded pull loop. It is owned by a Selector and stopped
// via the Selector's context; it never outlives Close.
type poller struct {
	interval time.Duration
	fetch    FetchFunc
	onEvent  func(envelope.Event)
}

func (p *poller) run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			evs, err := p.fetch(ctx)
			if err != nil {
				// pull failures are non-fatal; the next tick retries
				logger.Warn("poll_fetch_failed", "error", err)
				continue
			}
			for _, ev := range evs {
				if ctx.Err() != nil {
					return
				}
				p.onEvent(ev)
			}
		}
	}
}
