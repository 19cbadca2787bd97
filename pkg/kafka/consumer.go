package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"ZepixTrader/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// PermanentError marks a handler failure that retrying cannot fix. The
// message goes straight to the DLQ.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the consumer skips retries for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	AutoOffsetReset string
	WorkerCount     int
	BufferSize      int
	RetryMax        int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	DLQTopic        string
	MinBytes        int
	MaxBytes        int
	Logger          *logger.Logger
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

// WithConsumerAutoOffsetReset picks where a group without a committed offset
// starts: "earliest" or "latest".
func WithConsumerAutoOffsetReset(reset string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if reset != "" {
			c.AutoOffsetReset = reset
		}
	}
}

// WithConsumerWorkers sets the number of handler goroutines. Messages of one
// partition always land on the same worker.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if count > 0 {
			c.WorkerCount = count
		}
	}
}

// WithConsumerRetry configures in-process retries before a message is
// dead-lettered.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		if backoffMin > 0 {
			c.BackoffMin = backoffMin
		}
		if backoffMax > 0 {
			c.BackoffMax = backoffMax
		}
	}
}

func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if minBytes > 0 {
			c.MinBytes = minBytes
		}
		if maxBytes > 0 {
			c.MaxBytes = maxBytes
		}
	}
}

// WithConsumerBufferSize sets the per-worker channel size.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

// Consumer reads registered topics with one reader each and hands messages
// to a fixed pool of workers sharded by partition, so per-partition order is
// kept. Offsets are committed after a message succeeds or is dead-lettered.
type Consumer struct {
	cfg      *ConsumerConfig
	logger   *logger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	shards   []chan fetched
	dlq      *kafka.Writer
	hook     ConsumerHook

	ctx    context.Context
	cancel context.CancelFunc
	fetchW sync.WaitGroup
	workW  sync.WaitGroup
	once   sync.Once
}

type fetched struct {
	reader *kafka.Reader
	msg    kafka.Message
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:         "default",
		AutoOffsetReset: "earliest",
		WorkerCount:     1,
		BufferSize:      16,
		RetryMax:        3,
		BackoffMin:      50 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		MinBytes:        1,
		MaxBytes:        10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	initConsumerMetricsOnce()
	c := &Consumer{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		hook:     NoopHook{},
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// RegisterHandler must be called before Start.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.logger.Warn("kafka handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// WithConsumerHook replaces the lifecycle hook. Nil keeps the current one.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("no kafka handlers registered")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.shards = make([]chan fetched, c.cfg.WorkerCount)
	for i := range c.shards {
		c.shards[i] = make(chan fetched, c.cfg.BufferSize)
		c.workW.Add(1)
		go c.work(c.shards[i])
	}

	start := kafka.LastOffset
	if c.cfg.AutoOffsetReset == "earliest" {
		start = kafka.FirstOffset
	}
	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: start,
		})
		c.readers[topic] = r
		c.fetchW.Add(1)
		go c.fetch(topic, r)
	}

	c.logger.Info("kafka consumer started",
		logger.String("group", c.cfg.GroupID),
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.WorkerCount))
	return nil
}

// Stop stops fetching, lets workers drain what they already hold and closes
// the readers. Messages not yet committed are redelivered to the group.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		c.fetchW.Wait()
		for _, ch := range c.shards {
			close(ch)
		}

		done := make(chan struct{})
		go func() {
			c.workW.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.logger.Warn("kafka reader close", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.logger.Warn("kafka dlq writer close", logger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) fetch(topic string, r *kafka.Reader) {
	defer c.fetchW.Done()
	for {
		msg, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka fetch", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(c.ctx, time.Second) {
				return
			}
			continue
		}

		shard := c.shards[msg.Partition%len(c.shards)]
		consumerQueueDepth.WithLabelValues(topic).Set(float64(len(shard)))
		select {
		case shard <- fetched{reader: r, msg: msg}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(in <-chan fetched) {
	defer c.workW.Done()
	for f := range in {
		c.process(f)
	}
}

func (c *Consumer) process(f fetched) {
	topic := f.msg.Topic
	h := c.handlers[topic]
	start := time.Now()

	err := c.handleWithRetry(h, f.msg)
	result := "ok"
	if err != nil {
		result = "dead"
		if !c.deadLetter(f.msg, err) {
			// neither handled nor parked: leave it uncommitted for redelivery
			consumerHandled.WithLabelValues(topic, "uncommitted").Inc()
			return
		}
	}
	consumerHandled.WithLabelValues(topic, result).Inc()
	consumerHandleLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	c.commit(f.reader, f.msg)
}

func (c *Consumer) handleWithRetry(h MessageHandler, km kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()

	for attempt := 1; ; attempt++ {
		ctx, msg, data, berr := safeBefore(c.hook, context.Background(), km.Topic, km, km.Value)
		if berr != nil {
			return Permanent(berr)
		}
		err = h.Handle(ctx, data)
		safeAfter(c.hook, ctx, km.Topic, msg, data, err)
		if err == nil {
			return nil
		}
		safeOnError(c.hook, ctx, km.Topic, msg, data, err)

		var perm *PermanentError
		if errors.As(err, &perm) || attempt > c.cfg.RetryMax {
			c.logger.Warn("kafka message failed",
				logger.String("topic", km.Topic),
				logger.Int("attempts", attempt),
				logger.Error(err))
			return err
		}
		// a stopping consumer still finishes the retries it started
		time.Sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt))
	}
}

// deadLetter reports whether the message may be committed.
func (c *Consumer) deadLetter(km kafka.Message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(km.Topic)},
		{Key: "error", Value: []byte(cause.Error())},
	}, km.Headers...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.dlq.WriteMessages(ctx, kafka.Message{Key: km.Key, Value: km.Value, Headers: headers}); err != nil {
		c.logger.Error("kafka dlq write", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(r *kafka.Reader, km kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.logger.Warn("kafka commit failed",
		logger.String("topic", km.Topic),
		logger.Int64("offset", km.Offset),
		logger.Error(err))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoffWithJitter doubles from min per attempt, caps at max and takes off
// up to half as jitter.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := max
	if attempt < 31 {
		if d := min << uint(attempt-1); d > 0 && d < max {
			exp = d
		}
	}
	return exp - time.Duration(rand.Int63n(int64(exp)/2+1))
}

var (
	consumerOnce          sync.Once
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandled       *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
)

func initConsumerMetricsOnce() {
	consumerOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zepix_kafka_consumer_queue_depth",
			Help: "Messages waiting in the worker shard at fetch time.",
		}, []string{"topic"})
		consumerHandled = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zepix_kafka_consumer_messages_total",
			Help: "Consumed messages by outcome.",
		}, []string{"topic", "result"})
		consumerHandleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "zepix_kafka_consumer_handle_seconds",
			Help: "Handling time per message including retries.",
		}, []string{"topic"})
	})
}
