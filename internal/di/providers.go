package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"SqueezeWatch/internal/domain/repository"
	domsvc "SqueezeWatch/internal/domain/service"
	"SqueezeWatch/internal/handler/api"
	mid "SqueezeWatch/internal/middleware"
	internalrepo "SqueezeWatch/internal/repository"
	"SqueezeWatch/internal/service/binance"
	icache "SqueezeWatch/internal/service/cache"
	"SqueezeWatch/internal/service/indicator"
	"SqueezeWatch/internal/service/notify"
	"SqueezeWatch/internal/usecase"
	pkgcache "SqueezeWatch/pkg/cache"
	pkgch "SqueezeWatch/pkg/clickhouse"
	"SqueezeWatch/pkg/config"
	xhttp "SqueezeWatch/pkg/http"
	pkgkafka "SqueezeWatch/pkg/kafka"
	applogger "SqueezeWatch/pkg/logger"
	"SqueezeWatch/pkg/metrics"
	"SqueezeWatch/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the
// database exists. Table DDL runs later through the history store's Init.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerLogger(l.Named("kafka-producer")),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the Kafka consumer that mirrors published
// events into ClickHouse.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l.Named("kafka-consumer")),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideEventPublisher creates the Kafka-backed event publisher.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) (repository.EventPublisher, error) {
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
}

// ProvideHistoryStore creates the ClickHouse event history store.
func ProvideHistoryStore(client *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.HistoryStore {
	table := cfg.ClickHouse.Database + ".squeeze_events"
	return internalrepo.NewClickHouseHistory(client, table, l.Named("history"))
}

// ProvideKafkaEventsHandler registers the handler for the events topic.
func ProvideKafkaEventsHandler(store repository.HistoryStore, m repository.Metrics, cfg *config.Config) *usecase.KafkaEventsHandler {
	return usecase.NewKafkaEventsHandler(cfg.Kafka.Topic, store, m)
}

// ProvideEventRecorder creates the recorder shipping events to the
// configured backend.
func ProvideEventRecorder(
	pub repository.EventPublisher,
	store repository.HistoryStore,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.EventRecorder {
	return usecase.NewEventRecorder(pub, store, m, l.Named("recorder"), cfg.Backend.Type,
		usecase.WithBatch(cfg.Backend.BatchSize, cfg.Backend.BatchTimeout),
	)
}

// ProvideMarketCache builds the kline/price cache for the REST provider:
// in-process by default, layered over Redis when Redis is enabled.
func ProvideMarketCache(cfg *config.Config, l *applogger.Logger) pkgcache.Service {
	if !cfg.Redis.Enabled || cfg.Redis.Addr == "" {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MaxEntries))
	}

	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		l.Warn("bad redis addr, falling back to memory cache",
			applogger.String("addr", cfg.Redis.Addr), applogger.Error(err))
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MaxEntries))
	}
	port, _ := strconv.Atoi(portStr)

	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix("squeezewatch:market"),
	)
	if err != nil {
		l.Warn("redis unavailable, falling back to memory cache", applogger.Error(err))
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MaxEntries))
	}
	return pkgcache.NewLayeredCache(rc, pkgcache.WithLayeredMemorySize(cfg.Cache.MaxEntries))
}

// ProvideMarketData creates the Binance REST market data provider.
func ProvideMarketData(
	cfg *config.Config,
	m repository.Metrics,
	agg *usecase.Aggregator,
	cache pkgcache.Service,
	l *applogger.Logger,
) repository.MarketData {
	return binance.NewProvider(l.Named("binance"),
		binance.WithCache(cache, cfg.Cache.KlineTTL, cfg.Cache.PriceTTL),
		binance.WithMetrics(m),
		binance.WithAPIBudget(cfg.Binance.APIBudgetPerMin),
		binance.WithTimeout(cfg.Binance.Timeout),
		binance.WithCallHooks(nil, agg.RecordRateLimitHit),
	)
}

// ProvideSnapshotProvider creates the indicator engine.
func ProvideSnapshotProvider(market repository.MarketData, cfg *config.Config, l *applogger.Logger) domsvc.SnapshotProvider {
	return indicator.NewEngine(market, l.Named("indicator"),
		indicator.WithCandlesLimit(cfg.Engine.CandlesLimit),
	)
}

// ProvideContextProvider creates the higher-timeframe context builder.
func ProvideContextProvider(snapshots domsvc.SnapshotProvider, cfg *config.Config) domsvc.ContextProvider {
	timeframes := []repository.Timeframe{
		repository.NormalizeTimeframe(cfg.Engine.Timeframes.Confirmation),
		repository.NormalizeTimeframe(cfg.Engine.Timeframes.Context),
	}
	return usecase.NewContextBuilder(snapshots, timeframes, cfg.Engine.PollTimeout)
}

// ProvideClassifier creates the signal classifier.
func ProvideClassifier() *usecase.Classifier {
	return usecase.NewClassifier()
}

// ProvideLedger creates the paper-trading ledger.
func ProvideLedger(cfg *config.Config, l *applogger.Logger) *usecase.Ledger {
	return usecase.NewLedger(
		decimal.NewFromFloat(cfg.Trading.InitialBalance), l.Named("ledger"),
		usecase.WithMaxOpenPositions(cfg.Trading.MaxOpenPositions),
	)
}

// ProvideAggregator creates the performance aggregator.
func ProvideAggregator() *usecase.Aggregator {
	return usecase.NewAggregator()
}

// ProvideNotificationBackends assembles the delivery chain in fallback
// order: telegram, then webhook, then the log backend as the terminal
// catch-all.
func ProvideNotificationBackends(cfg *config.Config, l *applogger.Logger) ([]repository.NotificationBackend, error) {
	var backends []repository.NotificationBackend

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID,
			notify.WithPacePerMinute(cfg.Telegram.PacePerMinute),
		)
		if err != nil {
			return nil, fmt.Errorf("telegram backend: %w", err)
		}
		backends = append(backends, tg)
	}
	if cfg.Webhook.Enabled {
		backends = append(backends, notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout))
	}
	backends = append(backends, notify.NewLog(l.Named("alerts")))

	return backends, nil
}

// ProvideDispatcher creates the alert dispatcher.
func ProvideDispatcher(
	backends []repository.NotificationBackend,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.Dispatcher {
	return usecase.NewDispatcher(backends, m, l.Named("dispatcher"),
		usecase.WithMinStrength(cfg.Alerts.MinStrength),
		usecase.WithMaxPerHour(cfg.Alerts.MaxPerHour),
		usecase.WithDedupWindow(cfg.Alerts.DedupWindow),
		usecase.WithQueueSize(cfg.Alerts.QueueSize),
		usecase.WithHistorySize(cfg.Alerts.HistorySize),
	)
}

// ProvidePriceStream creates the Binance WebSocket mini-ticker stream.
func ProvidePriceStream(cfg *config.Config) repository.PriceStream {
	return binance.NewStream(
		cfg.Binance.WebSocketURL,
		cfg.Binance.ReconnectDelay,
		cfg.Binance.PingInterval,
	)
}

// ProvidePriceBoard creates the live price board feeding mark-to-market.
func ProvidePriceBoard(ledger *usecase.Ledger, market repository.MarketData, m repository.Metrics) *usecase.PriceBoard {
	return usecase.NewPriceBoard(ledger, market, m)
}

// ProvideTickPipeline builds the throttle/buffer stage between the stream
// and the price board.
func ProvideTickPipeline(board *usecase.PriceBoard, m repository.Metrics) *mid.TickPipeline {
	return mid.NewTickPipeline(board, m,
		mid.WithMaxRPS(20),
		mid.WithBufferSize(1000),
	)
}

// ProvidePriceCollector creates the stream consumer.
func ProvidePriceCollector(
	stream repository.PriceStream,
	pipe *mid.TickPipeline,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.PriceCollector {
	return usecase.NewPriceCollector(stream, pipe, m, l.Named("prices"))
}

// ProvideEngine creates the monitoring engine. Symbol hooks keep the
// WebSocket subscriptions and price cache in step with the registry.
func ProvideEngine(
	snapshots domsvc.SnapshotProvider,
	contextual domsvc.ContextProvider,
	classifier *usecase.Classifier,
	ledger *usecase.Ledger,
	dispatcher *usecase.Dispatcher,
	aggregator *usecase.Aggregator,
	recorder *usecase.EventRecorder,
	collector *usecase.PriceCollector,
	board *usecase.PriceBoard,
	cache pkgcache.Service,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.Engine {
	log := l.Named("engine")
	onWatch := func(ctx context.Context, symbol string) {
		if err := collector.Watch(ctx, symbol); err != nil {
			log.Warn("stream subscribe failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	onUnwatch := func(ctx context.Context, symbol string) {
		if err := collector.Unwatch(ctx, symbol); err != nil {
			log.Warn("stream unsubscribe failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
		board.Forget(symbol)
		// Drop cached market data so a later re-watch starts fresh.
		_ = cache.Delete(ctx, pkgcache.GenerateKey("price", symbol))
		if err := cache.DeleteByPattern(ctx, pkgcache.GenerateKeyWithParams("klines", symbol, "*")); err != nil {
			log.Warn("cache purge failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}

	return usecase.NewEngine(
		snapshots, contextual, classifier, ledger, dispatcher, aggregator, recorder, m, log,
		usecase.WithPollInterval(cfg.Engine.UpdateInterval),
		usecase.WithPollTimeout(cfg.Engine.PollTimeout),
		usecase.WithErrorThreshold(cfg.Engine.MaxConsecutiveErrors, cfg.Engine.ErrorResetTime),
		usecase.WithPrimaryTimeframe(repository.NormalizeTimeframe(cfg.Engine.Timeframes.Primary)),
		usecase.WithPositionSizing(
			decimal.NewFromFloat(cfg.Trading.PositionSize),
			decimal.NewFromFloat(cfg.Fees.Maker),
			decimal.NewFromFloat(cfg.Fees.Taker),
		),
		usecase.WithSymbolHooks(onWatch, onUnwatch),
	)
}

// ProvideHistoryUseCase creates the history read side.
func ProvideHistoryUseCase(store repository.HistoryStore) *usecase.HistoryUseCase {
	return usecase.NewHistoryUseCase(store)
}

// ProvideResponseCache builds the API response cache: Redis-backed when
// enabled, an in-process TTL map otherwise.
func ProvideResponseCache(cfg *config.Config) icache.BytesCache {
	if cfg.Redis.Enabled && cfg.Redis.Addr != "" {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// ProvideMonitorHandler creates the HTTP API handler.
func ProvideMonitorHandler(
	engine *usecase.Engine,
	history *usecase.HistoryUseCase,
	rcache icache.BytesCache,
	l *applogger.Logger,
) *api.MonitorHandler {
	h := api.NewMonitorHandler(engine, history, l.Named("api"))
	h.SetCache(rcache)
	return h
}

// ProvideHTTPServer creates the Echo server hosting the monitor API.
func ProvideHTTPServer(h *api.MonitorHandler, cfg *config.Config, l *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithRequestLogging(l.Named("http"), time.Second),
	)
}

// logPublisher adapts the Kafka producer to the log collector's publisher.
type logPublisher struct {
	producer *pkgkafka.Producer
}

func (p logPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideApp assembles the application lifecycle. The consumer hook stamps
// the producer timestamp and trace id on each message so the events handler
// can observe publish-to-storage lag; the log collector ships aggregated
// error logs to the logs topic.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	m repository.Metrics,
	engine *usecase.Engine,
	collector *usecase.PriceCollector,
	dispatcher *usecase.Dispatcher,
	recorder *usecase.EventRecorder,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaEventsHandler,
	store repository.HistoryStore,
	chClient *pkgch.Client,
	httpServer *xhttp.Server,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.HookFuncs{
			Before: func(ctx context.Context, topic string, km segkafka.Message, data []byte) (context.Context, segkafka.Message, []byte, error) {
				ctx = pkgkafka.WithStartTime(ctx, km.Time)
				ctx = pkgkafka.WithTraceID(ctx, pkgkafka.ExtractTraceID(km))
				return ctx, km, data, nil
			},
			Err: func(context.Context, string, segkafka.Message, []byte, error) {
				m.RecordError("consumer_retry")
			},
		})
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      logPublisher{producer: producer},
		})
	}
	return server.New(cfg, l, engine, collector, dispatcher, recorder, consumer, kh, store, chClient, httpServer)
}
