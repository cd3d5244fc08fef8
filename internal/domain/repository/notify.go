package repository

import (
	"context"

	"SqueezeWatch/internal/domain/models"
)

// NotificationBackend is one delivery capability in the dispatcher's fallback
// chain. Send must be safe for concurrent use; a returned error makes the
// dispatcher degrade to the next backend.
type NotificationBackend interface {
	Name() string
	Send(ctx context.Context, alert *models.AlertRecord) error
}
