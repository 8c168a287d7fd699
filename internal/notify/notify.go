// Package notify pushes best-effort payment events to realtime subscribers and other services.
package notify

import (
	"context"
	"errors"
	"time"

	"payments_core/internal/logger"

	"github.com/shopspring/decimal"
)

const (
	EventBalanceChanged   = "balance.changed"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

type Event struct {
	Type          string           `json:"type"`
	UserID        int64            `json:"user_id"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Kind          string           `json:"kind,omitempty"`
	Status        string           `json:"status,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	At            time.Time        `json:"at"`
}

// Publisher delivers events without retrying. Callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every backend and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send stamps ev and publishes it, logging instead of returning failures.
func Send(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.FromContext(ctx).Warn("event publish failed", "type", ev.Type, "user_id", ev.UserID, "error", err)
	}
}
