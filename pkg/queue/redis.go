package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ZepixTrader/pkg/logger"
)

// RedisQueue keeps messages under one key prefix: a ready list consumed with
// BRPOP, a sorted set of delayed messages scored by due time in unix millis,
// and a dead list for messages that ran out of attempts.
type RedisQueue struct {
	logger *logger.Logger
	cfg    *QueueConfig
	client *redis.Client
	prefix string
	poll   time.Duration

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// envelope is the stored form. Payload stays raw so jobs decode it into
// their own type with ParsePayload.
type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"ts"`
}

type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithPromoteInterval sets how often due delayed messages move to the ready
// list.
func WithPromoteInterval(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.poll = d
		}
	}
}

func NewRedisQueue(lgr *logger.Logger, cfg *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if cfg == nil {
		cfg = &QueueConfig{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	r := &RedisQueue{
		logger: lgr,
		cfg:    cfg,
		client: client,
		prefix: "zepix:queue",
		poll:   time.Second,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) readyKey() string   { return r.prefix + ":ready" }
func (r *RedisQueue) delayedKey() string { return r.prefix + ":delayed" }
func (r *RedisQueue) deadKey() string    { return r.prefix + ":dead" }

func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Debug("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	r.wg.Add(1)
	go r.promote(ctx)

	r.logger.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.prefix))
	return nil
}

func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("redis queue stop: %w", ctx.Err())
	}
}

func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	data, err := r.encode(msgType, payload)
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, r.readyKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (r *RedisQueue) EnqueueAfter(ctx context.Context, msgType string, payload interface{}, delay time.Duration) error {
	if delay <= 0 {
		return r.Enqueue(ctx, msgType, payload)
	}
	data, err := r.encode(msgType, payload)
	if err != nil {
		return err
	}
	return r.schedule(ctx, data, time.Now().Add(delay))
}

func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	ready := pipe.LLen(ctx, r.readyKey())
	delayed := pipe.ZCard(ctx, r.delayedKey())
	dead := pipe.LLen(ctx, r.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: ready.Val(), Scheduled: delayed.Val(), Dead: dead.Val()}, nil
}

func (r *RedisQueue) encode(msgType string, payload interface{}) ([]byte, error) {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return nil, errors.New("queue not running")
	}
	if !known {
		return nil, fmt.Errorf("no job registered for type %q", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(envelope{ID: uuid.NewString(), Type: msgType, Payload: raw, Timestamp: time.Now()})
}

func (r *RedisQueue) schedule(ctx context.Context, data []byte, at time.Time) error {
	z := redis.Z{Score: float64(at.UnixMilli()), Member: data}
	if err := r.client.ZAdd(ctx, r.delayedKey(), z).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

func (r *RedisQueue) work(ctx context.Context) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, time.Second, r.readyKey()).Result()
		switch {
		case err == nil && len(res) == 2:
			r.handle(ctx, []byte(res[1]))
		case err == nil, errors.Is(err, redis.Nil), ctx.Err() != nil:
		default:
			r.logger.Error("brpop", logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (r *RedisQueue) handle(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Error("undecodable queue message", logger.Error(err))
		r.bury(data)
		return
	}
	r.mu.RLock()
	job, ok := r.jobs[env.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message", logger.String("type", env.Type), logger.String("id", env.ID))
		r.bury(data)
		return
	}

	err := job.Handle(ctx, env.Payload)
	switch {
	case err == nil:
		return
	case ctx.Err() != nil:
		// stopping: hand the message back untouched
		if perr := r.client.LPush(context.Background(), r.readyKey(), data).Err(); perr != nil {
			r.logger.Error("requeue on stop", logger.String("id", env.ID), logger.Error(perr))
		}
		return
	}

	log := r.logger.With(
		logger.String("id", env.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", env.Attempts+1))
	if errors.Is(err, ErrDrop) || env.Attempts >= r.cfg.RetryLimit {
		log.Error("queue message dead-lettered", logger.Error(err))
		r.bury(data)
		return
	}

	env.Attempts++
	next, merr := json.Marshal(env)
	if merr != nil {
		log.Error("marshal retry", logger.Error(merr))
		return
	}
	if serr := r.schedule(context.Background(), next, time.Now().Add(r.cfg.RetryDelay)); serr != nil {
		log.Error("schedule retry", logger.Error(serr))
		return
	}
	log.Warn("queue message will retry", logger.Error(err))
}

func (r *RedisQueue) bury(data []byte) {
	if err := r.client.LPush(context.Background(), r.deadKey(), data).Err(); err != nil {
		r.logger.Error("lpush dead", logger.Error(err))
	}
}

// promote moves due delayed messages to the ready list. ZREM decides the
// winner when several processes share the prefix.
func (r *RedisQueue) promote(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		due, err := r.client.ZRangeByScore(ctx, r.delayedKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("read delayed messages", logger.Error(err))
			}
			continue
		}
		for _, m := range due {
			n, err := r.client.ZRem(ctx, r.delayedKey(), m).Result()
			if err != nil || n == 0 {
				continue
			}
			if err := r.client.LPush(ctx, r.readyKey(), m).Err(); err != nil {
				r.logger.Error("promote delayed message", logger.Error(err))
			}
		}
	}
}
