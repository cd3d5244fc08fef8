package cache

import "time"

// BytesCache stores rendered API response bodies keyed by request shape.
// Values are opaque bytes so the memory and Redis backends stay
// interchangeable behind the handlers.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}
