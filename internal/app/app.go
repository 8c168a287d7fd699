// Package app wires the payment services shared by the API server and ledgerctl.
package app

import (
	"payments_core/internal/config"
	"payments_core/internal/gateway"
	"payments_core/internal/lock"
	"payments_core/internal/notify"
	"payments_core/internal/repository"
	"payments_core/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
)

type Services struct {
	Store       *repository.Store
	Gateways    *gateway.Registry
	Ledger      *service.LedgerService
	Commissions *service.CommissionService
	Reconciler  *service.Reconciler
	Payments    *service.PaymentService
	Poller      *service.Poller
	Audit       *service.AuditService
	Alerts      *service.DeferredAlerter
}

// Build assembles the services over Postgres and Redis. pub may be nil.
func Build(cfg *config.Config, settings *config.Settings, pool *pgxpool.Pool, rdb redis.UniversalClient, pub notify.Publisher) *Services {
	st := repository.NewStore(pool)
	transport := gateway.NewTransport(cfg.GatewayTimeout)
	creds := repository.NewCredentialRepository(pool)
	gateways := gateway.NewRegistry(
		gateway.NewPixBridge(creds, transport),
		gateway.NewPayLink(creds, transport),
		gateway.NewCryptoHub(creds, transport),
	)

	alerts := &service.DeferredAlerter{}
	audit := service.NewAuditService(repository.NewAuditRepository(pool))
	ledger := service.NewLedgerService(st, pub, settings.Currency)
	commissions := service.NewCommissionService(st, ledger, settings.Commission)
	reconciler := service.NewReconciler(service.ReconcilerDeps{
		Store:       st,
		Locker:      lock.NewRedisLocker(rdb),
		Commissions: commissions,
		Publisher:   pub,
		Audit:       audit,
		Alerter:     alerts,
		LockTTL:     cfg.LockTTL,
		Tolerance:   settings.Reconcile.AmountTolerance,
	})
	payments := service.NewPaymentService(service.PaymentDeps{
		Store:        st,
		Gateways:     gateways,
		Ledger:       ledger,
		Reconciler:   reconciler,
		Commissions:  commissions,
		Audit:        audit,
		Alerter:      alerts,
		Settings:     settings,
		CallbackBase: cfg.PublicBaseURL,
	})

	return &Services{
		Store:       st,
		Gateways:    gateways,
		Ledger:      ledger,
		Commissions: commissions,
		Reconciler:  reconciler,
		Payments:    payments,
		Poller:      service.NewPoller(st, gateways, reconciler, settings.Poller),
		Audit:       audit,
		Alerts:      alerts,
	}
}
