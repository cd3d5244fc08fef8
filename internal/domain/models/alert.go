package models

import "time"

// AlertPriority orders alerts for delivery and display.
type AlertPriority string

const (
	PriorityCritical AlertPriority = "CRITICAL"
	PriorityHigh     AlertPriority = "HIGH"
	PriorityMedium   AlertPriority = "MEDIUM"
	PriorityLow      AlertPriority = "LOW"
	PriorityInfo     AlertPriority = "INFO"
)

// Rank maps a priority to its order; lower is more urgent.
func (p AlertPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// AlertRecord is one dispatcher outcome, delivered or suppressed. Records are
// immutable after creation except the Delivered flag and the fields set with
// it. Suppressed records keep Delivered=false and carry the suppression
// reason; delivered ones name the backend that accepted them.
type AlertRecord struct {
	ID             string        `json:"id"`
	Symbol         string        `json:"symbol"`
	Signal         TradingSignal `json:"signal"`
	Priority       AlertPriority `json:"priority"`
	Message        string        `json:"message"`
	DedupKey       string        `json:"dedup_key"`
	CreatedAt      time.Time     `json:"created_at"`
	Delivered      bool          `json:"delivered"`
	DeliveredBy    string        `json:"delivered_by,omitempty"`
	SuppressReason string        `json:"suppress_reason,omitempty"`
}
