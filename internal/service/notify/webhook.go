package notify

import (
	"context"
	"time"

	"SqueezeWatch/internal/domain/models"
	pkgHttp "SqueezeWatch/pkg/http"
)

// Webhook delivers alerts as JSON POST requests to an external endpoint.
type Webhook struct {
	client *pkgHttp.Client
	url    string
}

// NewWebhook creates a webhook backend for the given URL. Transient delivery
// failures are retried inside the client; the dispatcher sees only the final
// outcome.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		client: pkgHttp.NewClient(
			pkgHttp.WithTimeout(timeout),
			pkgHttp.WithRetries(2, 500*time.Millisecond),
		),
		url:    url,
	}
}

// Name returns the backend name.
func (w *Webhook) Name() string {
	return "webhook"
}

// Send posts the alert record to the configured endpoint. Any non-2xx
// response counts as a delivery failure.
func (w *Webhook) Send(ctx context.Context, alert *models.AlertRecord) error {
	err := w.client.SendAndParse(ctx, &pkgHttp.RequestOptions{
		Method: pkgHttp.MethodPost,
		URL:    w.url,
		Body:   alert,
	}, nil)
	if err != nil {
		return &models.DeliveryFailure{Backend: w.Name(), Err: err}
	}

	return nil
}
