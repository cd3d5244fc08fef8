package models

// Requests for monitoring HTTP endpoints. Defined in domain for consistency and reuse.

type AddSymbolRequest struct {
	Symbol string `json:"symbol" validate:"required,symbol,min=5,max=20"`
	// 0 means the engine default; otherwise 5s..300s
	IntervalMs int64 `json:"interval_ms" validate:"omitempty,gte=5000,lte=300000"`
}

type SymbolRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,symbol"`
}

type RecentAlertsRequest struct {
	Limit int `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=1000"`
}

type RecentTradesRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type RecentSignalsRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,symbol"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}
