package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ZepixTrader/internal/domain/models"
	domrepo "ZepixTrader/internal/domain/repository"
)

// Sink is the downstream the pipeline feeds.
type Sink interface {
	Observe(ctx context.Context, q models.Quote) error
}

// QuotePipeline sits between the quote stream and its sink. It validates,
// throttles per symbol and buffers when the sink fails.
type QuotePipeline struct {
	sink     Sink
	metrics  domrepo.Metrics
	interval time.Duration // minimum spacing per symbol
	bufSize  int
	bufCh    chan models.Quote
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

type PipelineOption func(*QuotePipeline)

// WithThrottle sets the minimum spacing between accepted quotes per symbol.
func WithThrottle(d time.Duration) PipelineOption {
	return func(p *QuotePipeline) { p.interval = d }
}

// WithBufferSize sets the retry buffer used while the sink is failing.
func WithBufferSize(n int) PipelineOption {
	return func(p *QuotePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *QuotePipeline) { p.now = now }
}

func NewQuotePipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *QuotePipeline {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	p := &QuotePipeline{
		sink:     sink,
		metrics:  metrics,
		interval: 250 * time.Millisecond,
		bufSize:  256,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.Quote, p.bufSize)
	return p
}

// Start launches the retry loop for buffered quotes.
func (p *QuotePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case q := <-p.bufCh:
				if err := p.sink.Observe(ctx, q); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("quote_pipeline_flush")
					time.Sleep(backoff)
					select {
					case p.bufCh <- q:
					default:
						p.metrics.RecordError("quote_pipeline_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

func (p *QuotePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Process validates, throttles and forwards q. Throttled quotes are dropped
// without error.
func (p *QuotePipeline) Process(ctx context.Context, q models.Quote) error {
	start := p.now()
	if err := validateQuote(q); err != nil {
		p.metrics.RecordError("quote_pipeline_validate")
		return err
	}
	if !p.allow(q.Symbol, start) {
		return nil
	}

	if err := p.sink.Observe(ctx, q); err != nil {
		p.metrics.RecordError("quote_pipeline_sink")
		select {
		case p.bufCh <- q:
		default:
			p.metrics.RecordError("quote_pipeline_buffer_full")
		}
		return fmt.Errorf("quote pipeline downstream: %w", err)
	}
	p.metrics.RecordLastPrice(q.Symbol, q.Price)
	return nil
}

// Buffered reports quotes waiting for retry.
func (p *QuotePipeline) Buffered() int { return len(p.bufCh) }

func validateQuote(q models.Quote) error {
	if q.Symbol == "" {
		return fmt.Errorf("quote symbol empty")
	}
	if q.Price <= 0 {
		return fmt.Errorf("quote price %v not positive", q.Price)
	}
	if q.At.IsZero() {
		return fmt.Errorf("quote timestamp missing")
	}
	return nil
}

func (p *QuotePipeline) allow(symbol string, now time.Time) bool {
	if p.interval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[symbol]
	if ok && now.Sub(last) < p.interval {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
