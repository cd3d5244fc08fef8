package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "SqueezeWatch/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
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
	Logger          *applogger.Logger
}

// WithConsumerBrokers sets Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

// WithConsumerGroupID sets consumer group ID.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerAutoOffsetReset selects where a new group starts reading:
// "earliest" or "latest".
func WithConsumerAutoOffsetReset(autoOffsetReset string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.AutoOffsetReset = autoOffsetReset
	}
}

// WithConsumerWorkers sets number of worker goroutines.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.WorkerCount = count
	}
}

// WithConsumerRetry configures retry attempts and backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets a Kafka topic name for DLQ.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

// WithConsumerFetch sets fetch min/max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerBufferSize sets the internal channel buffer size.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerLogger sets the logger for consumer lifecycle events.
func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Logger = l
	}
}

// Consumer fans Kafka messages out to a worker pool while preserving
// per-partition ordering and at-least-once delivery: offsets are fetched
// without auto-commit and committed only once a message is settled.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *applogger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	dlq      *kafka.Writer
	hook     ConsumerHook

	runCtx   context.Context
	cancel   context.CancelFunc
	msgChan  chan *inbound
	readerWg sync.WaitGroup
	workerWg sync.WaitGroup
	stopOnce sync.Once

	mu        sync.Mutex
	partLocks map[string]map[int]*sync.Mutex
}

// inbound is a fetched message waiting for a worker.
type inbound struct {
	topic string
	km    kafka.Message
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:         "default",
		AutoOffsetReset: "earliest",
		WorkerCount:     1,
		BufferSize:      10,
		RetryMax:        3,
		BackoffMin:      50 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		MinBytes:        10e3, // 10KB
		MaxBytes:        10e6, // 10MB
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	log := cfg.Logger
	if log == nil {
		log = applogger.Nop()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:       cfg,
		log:       log,
		readers:   make(map[string]*kafka.Reader),
		handlers:  make(map[string]MessageHandler),
		hook:      NoopHook{},
		runCtx:    runCtx,
		cancel:    cancel,
		msgChan:   make(chan *inbound, cfg.BufferSize),
		partLocks: make(map[string]map[int]*sync.Mutex),
	}

	initConsumerMetricsOnce()

	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}

	return c, nil
}

// RegisterHandler registers a message handler for a specific topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start creates one reader per registered topic and launches the worker pool.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	startOffset := kafka.FirstOffset
	if c.cfg.AutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}

	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: startOffset,
		})
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workerWg.Add(1)
		go c.worker()
	}

	for topic, reader := range c.readers {
		c.readerWg.Add(1)
		go c.readLoop(topic, reader)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("topics", len(c.readers)),
		applogger.Int("workers", c.cfg.WorkerCount))
	return nil
}

// Stop drains the consumer: readers stop fetching first, then workers finish
// what is already buffered. Anything uncommitted is redelivered on restart.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		c.cancel()

		// Readers must exit before the channel closes under them.
		stopErr = waitGroup(ctx, &c.readerWg)
		if stopErr == nil {
			close(c.msgChan)
			stopErr = waitGroup(ctx, &c.workerWg)
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("kafka reader close failed",
					applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("kafka dlq writer close failed", applogger.Error(err))
			}
		}
	})

	return stopErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (c *Consumer) readLoop(topic string, reader *kafka.Reader) {
	defer c.readerWg.Done()

	for {
		km, err := reader.FetchMessage(c.runCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			c.log.Error("kafka fetch failed",
				applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-c.runCtx.Done():
				return
			}
			continue
		}

		if !c.enqueue(&inbound{topic: topic, km: km}) {
			return
		}
	}
}

// enqueue hands a message to the worker pool, easing off when the buffer is
// saturated instead of dropping.
func (c *Consumer) enqueue(in *inbound) bool {
	for {
		select {
		case c.msgChan <- in:
			consumerQueueDepth.WithLabelValues(in.topic).Set(float64(len(c.msgChan)))
			consumerQueueFullness.WithLabelValues(in.topic).Set(float64(len(c.msgChan)) / float64(cap(c.msgChan)))
			return true
		case <-c.runCtx.Done():
			return false
		default:
			full := float64(len(c.msgChan)) / float64(cap(c.msgChan))
			consumerQueueFullness.WithLabelValues(in.topic).Set(full)
			if full > 0.8 {
				time.Sleep(10 * time.Millisecond)
			} else {
				runtime.Gosched()
			}
		}
	}
}

func (c *Consumer) worker() {
	defer c.workerWg.Done()

	for in := range c.msgChan {
		if handler, ok := c.handlers[in.topic]; ok {
			c.process(handler, in)
		}
	}
}

// process runs one message through its handler with retries, dead-letters
// what still fails, and commits the offset once the message is settled.
func (c *Consumer) process(handler MessageHandler, in *inbound) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in kafka handler",
				applogger.String("topic", in.topic),
				applogger.Any("panic", r))
		}
		consumerHandleLatency.WithLabelValues(in.topic).Observe(time.Since(start).Seconds())
	}()

	// One in-flight message per (topic, partition) preserves per-key order.
	lock := c.partitionLock(in.topic, in.km.Partition)
	lock.Lock()
	defer lock.Unlock()

	err := c.handleWithRetry(handler, in)
	if err != nil {
		if c.runCtx.Err() != nil {
			// Shutting down: leave the offset uncommitted so the message is
			// redelivered instead of dead-lettered.
			return
		}
		c.hook.OnError(context.Background(), in.topic, in.km, in.km.Value, err)
		c.log.Error("kafka message failed after retries",
			applogger.String("topic", in.topic),
			applogger.Int("partition", in.km.Partition),
			applogger.Int64("offset", in.km.Offset),
			applogger.Error(err))
		if !c.deadLetter(in) {
			return
		}
	}

	// Commit on success or after DLQ so a poison message cannot wedge the
	// partition.
	if reader := c.readers[in.topic]; reader != nil {
		_ = c.commitWithRetry(reader, in.km, 3)
	}
}

func (c *Consumer) handleWithRetry(handler MessageHandler, in *inbound) error {
	var err error
	for attempt := 1; ; attempt++ {
		hctx, hmsg, hdata, hookErr := c.hook.BeforeHandle(context.Background(), in.topic, in.km, in.km.Value)
		if hookErr != nil {
			return hookErr
		}

		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, in.topic, hmsg, hdata, err)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}

		c.hook.OnError(hctx, in.topic, hmsg, hdata, err)
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-c.runCtx.Done():
			return err
		}
	}
}

// deadLetter forwards a poison message with its key and headers intact so a
// replay keeps partition routing and tracing. Reports whether the message is
// settled and its offset may be committed.
func (c *Consumer) deadLetter(in *inbound) bool {
	if c.dlq == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     in.km.Key,
		Value:   in.km.Value,
		Time:    time.Now(),
		Headers: append(in.km.Headers, kafka.Header{Key: "source_topic", Value: []byte(in.topic)}),
	})
	if err != nil {
		c.log.Error("kafka dlq write failed",
			applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}

	consumerDeadLetters.WithLabelValues(in.topic).Inc()
	return true
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(reader *kafka.Reader, km kafka.Message, max int) error {
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka offset commit failed",
		applogger.Int("attempts", max), applogger.Error(err))
	return err
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	byPart, ok := c.partLocks[topic]
	if !ok {
		byPart = make(map[int]*sync.Mutex)
		c.partLocks[topic] = byPart
	}
	lock, ok := byPart[partition]
	if !ok {
		lock = &sync.Mutex{}
		byPart[partition] = lock
	}
	return lock
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max {
		exp = max
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	// jitter up to 50%
	return exp - time.Duration(rand.Int63n(half))
}

// Consumer metrics
var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerQueueFullness *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerDeadLetters   *prometheus.CounterVec
	consumerMetricsOnce   sync.Once
	consumerRegisterer    prometheus.Registerer
)

// SetConsumerMetricsRegisterer overrides the Prometheus registerer for
// consumer metrics. Call before NewConsumer; useful in tests.
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetricsOnce() {
	consumerMetricsOnce.Do(func() {
		queueDepth := prometheus.GaugeOpts{Name: "squeezewatch_kafka_consumer_queue_depth", Help: "Number of messages waiting in consumer queue"}
		queueFullness := prometheus.GaugeOpts{Name: "squeezewatch_kafka_consumer_queue_fullness", Help: "Queue utilization ratio (len/cap)"}
		handleLatency := prometheus.HistogramOpts{Name: "squeezewatch_kafka_consumer_handle_seconds", Help: "Handling time per message"}
		deadLetters := prometheus.CounterOpts{Name: "squeezewatch_kafka_consumer_dead_letters_total", Help: "Messages forwarded to the DLQ"}
		labels := []string{"topic"}

		if consumerRegisterer != nil {
			consumerQueueDepth = prometheus.NewGaugeVec(queueDepth, labels)
			consumerQueueFullness = prometheus.NewGaugeVec(queueFullness, labels)
			consumerHandleLatency = prometheus.NewHistogramVec(handleLatency, labels)
			consumerDeadLetters = prometheus.NewCounterVec(deadLetters, labels)
			consumerRegisterer.MustRegister(consumerQueueDepth, consumerQueueFullness, consumerHandleLatency, consumerDeadLetters)
		} else {
			consumerQueueDepth = promauto.NewGaugeVec(queueDepth, labels)
			consumerQueueFullness = promauto.NewGaugeVec(queueFullness, labels)
			consumerHandleLatency = promauto.NewHistogramVec(handleLatency, labels)
			consumerDeadLetters = promauto.NewCounterVec(deadLetters, labels)
		}
	})
}
