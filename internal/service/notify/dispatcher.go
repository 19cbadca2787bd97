// Package notify fans engine events out to sinks without blocking the
// trading path.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/pkg/logger"
)

// Dispatcher implements repository.Notifier. Events go into a bounded
// buffer; when it is full the event is dropped and counted.
type Dispatcher struct {
	sinks   []repository.EventSink
	ch      chan models.Event
	timeout time.Duration
	logger  *logger.Logger
	metrics repository.Metrics

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewDispatcher(buffer int, timeout time.Duration, lgr *logger.Logger, metrics repository.Metrics, sinks ...repository.EventSink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	d := &Dispatcher{
		sinks:   sinks,
		ch:      make(chan models.Event, buffer),
		timeout: timeout,
		logger:  lgr,
		metrics: metrics,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify never blocks.
func (d *Dispatcher) Notify(_ context.Context, e models.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
		d.metrics.RecordError("notify_dropped")
	}
}

// Dropped counts events lost to a full buffer.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.ch {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Send(ctx, e); err != nil {
				d.metrics.RecordError("notify_" + s.Name())
				d.logger.Warn("notify sink failed",
					logger.String("sink", s.Name()), logger.String("event", string(e.Type)), logger.Error(err))
			}
			cancel()
		}
	}
}

// Close stops accepting events and delivers what is buffered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	d.wg.Wait()
}
