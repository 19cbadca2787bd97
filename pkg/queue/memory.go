package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ZepixTrader/pkg/logger"
)

// MemoryQueue is an in-process Queue for single-node deployments without
// redis. Messages do not survive a restart.
type MemoryQueue struct {
	logger  *logger.Logger
	config  *QueueConfig
	jobs    map[string]Job
	msgs    chan Message
	mu      sync.RWMutex
	wg      sync.WaitGroup
	timers  map[*time.Timer]struct{}
	dead    int64
	running bool
	stopCh  chan struct{}
}

func NewMemoryQueue(lgr *logger.Logger, config *QueueConfig) *MemoryQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &MemoryQueue{
		logger: lgr,
		config: config,
		jobs:   make(map[string]Job),
		msgs:   make(chan Message, config.QueueSize),
		timers: make(map[*time.Timer]struct{}),
		stopCh: make(chan struct{}),
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already running")
	}
	q.running = true
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers))
	return nil
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	for t := range q.timers {
		t.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	return q.push(ctx, Message{Type: msgType, Payload: payload, Timestamp: time.Now()})
}

func (q *MemoryQueue) EnqueueAfter(ctx context.Context, msgType string, payload interface{}, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, msgType, payload)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return fmt.Errorf("queue not running")
	}
	q.scheduleLocked(Message{Type: msgType, Payload: payload, Timestamp: time.Now()}, delay)
	return nil
}

func (q *MemoryQueue) scheduleLocked(msg Message, delay time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		if err := q.push(context.Background(), msg); err != nil {
			q.logger.Warn("scheduled message dropped", logger.String("type", msg.Type), logger.Error(err))
		}
	})
	q.timers[t] = struct{}{}
}

func (q *MemoryQueue) push(ctx context.Context, msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.running {
		return fmt.Errorf("queue not running")
	}
	if _, ok := q.jobs[msg.Type]; !ok {
		return fmt.Errorf("no job registered for type: %s", msg.Type)
	}
	select {
	case q.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full")
	}
}

func (q *MemoryQueue) Stats(context.Context) (Stats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Stats{Pending: int64(len(q.msgs)), Scheduled: int64(len(q.timers)), Dead: q.dead}, nil
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case msg := <-q.msgs:
			q.handle(msg)
		}
	}
}

func (q *MemoryQueue) handle(msg Message) {
	q.mu.RLock()
	job := q.jobs[msg.Type]
	q.mu.RUnlock()

	err := job.Handle(context.Background(), msg.Payload)
	if err == nil {
		return
	}
	q.logger.Warn("message processing error",
		logger.String("job", job.Name()), logger.Int("attempt", msg.Attempts+1), logger.Error(err))

	q.mu.Lock()
	defer q.mu.Unlock()
	if !errors.Is(err, ErrDrop) && msg.Attempts < q.config.RetryLimit && q.running {
		msg.Attempts++
		q.scheduleLocked(msg, q.config.RetryDelay)
		return
	}
	q.dead++
}
