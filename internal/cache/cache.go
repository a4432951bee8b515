package cache

import (
	"context"
	"time"

	"shopdesk/backend/internal/domain"
)

// StatusCache holds the derived subscription status per shop so the gate
// on every request does not recompute it from the stored record each hit.
// Entries must be invalidated after a payment or cancellation.
type StatusCache interface {
	Get(ctx context.Context, key string) (*domain.SubscriptionStatusResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.SubscriptionStatusResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopStatusCache struct{}

func (NoopStatusCache) Get(_ context.Context, _ string) (*domain.SubscriptionStatusResponse, bool, error) {
	return nil, false, nil
}

func (NoopStatusCache) Set(_ context.Context, _ string, _ *domain.SubscriptionStatusResponse, _ time.Duration) error {
	return nil
}

func (NoopStatusCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
