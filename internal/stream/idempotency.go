package stream

import (
	"context"
	"fmt"
	"time"
)

// DefaultIdempotencyTTL bounds how long delivered out_ids are remembered.
const DefaultIdempotencyTTL = 7 * 24 * time.Hour

const sentKeyPrefix = "sent:"

// keyValue is the KV slice Idempotency needs. *Client satisfies it.
type keyValue interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
}

var _ keyValue = (*Client)(nil)

// Idempotency marks outbound deliveries by out_id so redelivered stream
// entries are skipped instead of re-sent. The guarantee is at-least-once
// delivery with duplicates suppressed inside the TTL window.
type Idempotency struct {
	kv  keyValue
	ttl time.Duration
}

// NewIdempotency builds the store. A non-positive ttl falls back to
// DefaultIdempotencyTTL.
func NewIdempotency(kv keyValue, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Idempotency{kv: kv, ttl: ttl}
}

// WasSent reports whether the out_id has already been delivered.
func (s *Idempotency) WasSent(ctx context.Context, outID string) (bool, error) {
	val, err := s.kv.Get(ctx, sentKeyPrefix+outID)
	if err != nil {
		return false, fmt.Errorf("stream: idempotency read %s: %w", outID, err)
	}
	return val != "", nil
}

// MarkSent records a successful delivery. Call it after the channel send
// succeeds and before the stream entry is acknowledged.
func (s *Idempotency) MarkSent(ctx context.Context, outID string) error {
	if err := s.kv.SetEx(ctx, sentKeyPrefix+outID, "1", s.ttl); err != nil {
		return fmt.Errorf("stream: idempotency mark %s: %w", outID, err)
	}
	return nil
}
