//go:build wireinject
// +build wireinject

package di

import (
	"SqueezeWatch/pkg/config"
	"SqueezeWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideEventPublisher,
		ProvideHistoryStore,
		ProvideMarketCache,
		ProvideMarketData,
		ProvidePriceStream,

		// Services
		ProvideSnapshotProvider,
		ProvideContextProvider,
		ProvideNotificationBackends,
		ProvideResponseCache,

		// Use cases
		ProvideClassifier,
		ProvideLedger,
		ProvideAggregator,
		ProvideDispatcher,
		ProvideEventRecorder,
		ProvideKafkaEventsHandler,
		ProvidePriceBoard,
		ProvideTickPipeline,
		ProvidePriceCollector,
		ProvideEngine,
		ProvideHistoryUseCase,

		// HTTP surface
		ProvideMonitorHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
