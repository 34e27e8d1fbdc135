// internal/dispatcher/listener.go
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jack139/internvl-backend/internal/backoff"
	"github.com/jack139/internvl-backend/internal/domain"
	"github.com/jack139/internvl-backend/internal/metrics"
)

// Listener subscribes to the work channel and feeds every data message into
// the dispatch pool. It is the single intake goroutine: the only place it
// blocks is waiting for the next broker event, never on engine work.
//
// Its lifecycle is a small state loop — subscribed, draining, backoff —
// re-entered on every broker failure with the same fixed delay regardless
// of the error kind. The listener never terminates the process; it exits
// only when its context is cancelled.
type Listener struct {
	broker    domain.Broker
	decoder   domain.RequestDecoder
	processor domain.RequestProcessor
	pool      *Pool
	channel   string
	backoff   backoff.Strategy
	logger    *slog.Logger
}

// NewListener creates a listener for the given work channel.
func NewListener(
	broker domain.Broker,
	decoder domain.RequestDecoder,
	processor domain.RequestProcessor,
	pool *Pool,
	channel string,
	strategy backoff.Strategy,
	logger *slog.Logger,
) *Listener {
	return &Listener{
		broker:    broker,
		decoder:   decoder,
		processor: processor,
		pool:      pool,
		channel:   channel,
		backoff:   strategy,
		logger:    logger.With("component", "listener", "channel", channel),
	}
}

// Run blocks until ctx is cancelled, subscribing, draining and
// resubscribing forever.
func (l *Listener) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.drain(ctx)
		if ctx.Err() != nil {
			return
		}

		// Uniform recovery for every broker failure: log, sleep the fixed
		// interval, resubscribe.
		attempt++
		l.logger.Error("subscription lost", "error", err, "attempt", attempt)
		metrics.BrokerReconnectsTotal.Inc()

		delay := l.backoff.Delay(attempt)
		l.logger.Info("backing off before resubscribe", "delay", delay.String())
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// drain holds one subscription and processes its events until it fails or
// ctx is cancelled. A nil error is only returned on cancellation.
func (l *Listener) drain(ctx context.Context) error {
	sub, err := l.broker.Subscribe(ctx, l.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.channel, err)
	}
	defer sub.Close()

	// A blocked Receive may not notice cancellation on its own; closing
	// the subscription unblocks it so shutdown cannot hang.
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer stop()

	l.logger.Info("subscribed to work channel")

	for {
		ev, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		// Every event, control traffic included, is logged together with
		// the current pool occupancy.
		depth := l.pool.Depth()
		l.logger.Info("received",
			"type", string(ev.Kind),
			"running", depth.Running,
			"pending", depth.Pending,
		)
		metrics.BrokerEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

		if ev.Kind != domain.BrokerEventData {
			continue
		}
		l.dispatch(ev.Payload)
	}
}

// dispatch decodes one payload and submits it fire-and-forget. Decode
// failures still become jobs so the coded reply is built and published off
// the intake path.
func (l *Listener) dispatch(payload []byte) {
	env, err := l.decoder.Decode(payload)

	var h Handle
	if err != nil {
		h = l.pool.Submit(func(ctx context.Context) {
			l.processor.RejectRequest(ctx, env, err)
		})
	} else {
		h = l.pool.Submit(func(ctx context.Context) {
			l.processor.ProcessRequest(ctx, env)
		})
	}
	l.logger.Info("job queued", "handle", h.ID.String())
}

// sleepCtx sleeps for d, returning false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
