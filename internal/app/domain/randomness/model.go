// Package randomness defines the external randomness request records.
package randomness

import "time"

// RequestStatus tracks the lifecycle of a randomness request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
)

// Request correlates an opaque coordinator request with the round it was
// issued for. A round has at most one outstanding request at a time and at
// most one fulfilled value ever.
type Request struct {
	ID          string        `json:"id"`
	RoundNumber int64         `json:"round_number"`
	Status      RequestStatus `json:"status"`
	Value       string        `json:"value,omitempty"` // 32-byte value, hex encoded
	CreatedAt   time.Time     `json:"created_at"`
	FulfilledAt time.Time     `json:"fulfilled_at,omitempty"`
}
