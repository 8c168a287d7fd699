package service

import (
	"context"
	"time"

	"payments_core/internal/config"
	"payments_core/internal/domain"
	"payments_core/internal/gateway"
	"payments_core/internal/logger"
	"payments_core/internal/store"
)

// Poller recovers transactions whose webhook never arrived.
type Poller struct {
	store      store.Store
	gateways   *gateway.Registry
	reconciler *Reconciler
	policy     config.PollerPolicy
	now        func() time.Time
}

func NewPoller(st store.Store, gateways *gateway.Registry, reconciler *Reconciler, policy config.PollerPolicy) *Poller {
	return &Poller{store: st, gateways: gateways, reconciler: reconciler, policy: policy, now: time.Now}
}

type PollStats struct {
	Checked  int `json:"checked"`
	Settled  int `json:"settled"`
	Expired  int `json:"expired"`
	Failures int `json:"failures"`
}

// Start runs Tick every interval until ctx is done.
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.Tick(ctx); err != nil {
					logger.Error("poller tick failed", "error", err)
				}
			}
		}
	}()
}

// Tick makes one pass over old pending transactions.
func (p *Poller) Tick(ctx context.Context) (PollStats, error) {
	var stats PollStats
	now := p.now()
	pending, err := p.store.PendingTransactions(ctx, now.Add(-p.policy.MinAge), p.policy.BatchSize)
	if err != nil {
		return stats, err
	}

	log := logger.FromContext(ctx).With("component", "poller")
	for _, t := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		if t.ExternalID == "" {
			if t.Kind == domain.KindDeposit && p.policy.DepositExpiry > 0 && now.Sub(t.CreatedAt) > p.policy.DepositExpiry {
				if outcome, err := p.reconciler.Expire(ctx, t.ID); err != nil {
					log.Warn("deposit expiry failed", "transaction_id", t.ID, "error", err)
					stats.Failures++
				} else if outcome == OutcomeCanceled {
					stats.Expired++
				}
			}
			continue
		}

		adapter, err := p.gateways.Get(t.Provider)
		if err != nil {
			continue
		}
		checker, ok := adapter.(gateway.StatusChecker)
		if !ok {
			continue
		}

		stats.Checked++
		pollerChecked.Inc()
		ev, err := checker.FetchStatus(ctx, t.ExternalID)
		if err != nil {
			log.Warn("status lookup failed", "transaction_id", t.ID, "provider", t.Provider, "error", err)
			stats.Failures++
			continue
		}
		if ev.Status == domain.GatewayPending {
			continue
		}
		if ev.Reference == "" {
			ev.Reference = t.ID.String()
		}

		outcome, err := p.reconciler.reconcile(ctx, "poller", ev)
		if err != nil {
			log.Warn("poller reconcile failed", "transaction_id", t.ID, "error", err)
			stats.Failures++
			continue
		}
		if outcome == OutcomeApproved || outcome == OutcomeRejected {
			stats.Settled++
		}
	}
	return stats, nil
}
