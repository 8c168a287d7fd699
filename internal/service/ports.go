package service

import (
	"context"
	"sync"
	"time"

	"payments_core/internal/domain"
	"payments_core/internal/logger"
)

// Locker is the distributed idempotency lock.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Alerter notifies a human operator. Implementations must not block for long.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

// LogAlerter writes alerts to the error log when no operator channel is configured.
type LogAlerter struct{}

func (LogAlerter) Alert(ctx context.Context, text string) {
	logger.FromContext(ctx).Error("operator alert", "text", text)
}

// DeferredAlerter logs alerts until Set attaches the operator channel, which may be built
// after the services that raise alerts.
type DeferredAlerter struct {
	mu     sync.RWMutex
	target Alerter
}

func (d *DeferredAlerter) Set(a Alerter) {
	d.mu.Lock()
	d.target = a
	d.mu.Unlock()
}

func (d *DeferredAlerter) Alert(ctx context.Context, text string) {
	d.mu.RLock()
	target := d.target
	d.mu.RUnlock()
	if target == nil {
		target = LogAlerter{}
	}
	target.Alert(ctx, text)
}

type AuditWriter interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}
