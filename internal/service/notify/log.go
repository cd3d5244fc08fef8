package notify

import (
	"context"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/pkg/logger"
)

// Log writes alerts to the structured log. It sits last in the delivery
// chain and never fails, so every alert reaches at least the terminal.
type Log struct {
	logger *logger.Logger
}

// NewLog creates a log backend.
func NewLog(l *logger.Logger) *Log {
	return &Log{logger: l}
}

// Name returns the backend name.
func (l *Log) Name() string {
	return "log"
}

// Send logs the alert and always succeeds.
func (l *Log) Send(_ context.Context, alert *models.AlertRecord) error {
	l.logger.Info("alert",
		logger.String("symbol", alert.Symbol),
		logger.String("type", string(alert.Signal.Type)),
		logger.String("direction", string(alert.Signal.Direction)),
		logger.String("priority", string(alert.Priority)),
		logger.Float64("price", alert.Signal.Price),
		logger.Float64("strength", alert.Signal.Strength),
		logger.Float64("confidence", alert.Signal.Confidence),
	)
	return nil
}
