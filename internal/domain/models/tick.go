package models

import "time"

// PriceTick is one live price update from the exchange stream.
type PriceTick struct {
	Symbol string
	Price  float64
	At     time.Time
}
