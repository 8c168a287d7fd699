package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"payments_core/internal/config"
	"payments_core/internal/domain"
	"payments_core/internal/gateway"
	"payments_core/internal/lock"
	"payments_core/internal/notify"
	"payments_core/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const fakeSlug = "fakepay"

type fakeAdapter struct {
	mu            sync.Mutex
	seq           int
	cashIns       int
	cashOuts      int
	cashInErr     error
	cashOutErr    error
	cashOutStatus domain.GatewayStatus
	statuses      map[string]*domain.WebhookEvent
}

var (
	_ gateway.Adapter        = (*fakeAdapter)(nil)
	_ gateway.StatusChecker  = (*fakeAdapter)(nil)
	_ gateway.PayeeValidator = (*fakeAdapter)(nil)
)

func (f *fakeAdapter) Slug() string { return fakeSlug }

func (f *fakeAdapter) CashIn(_ context.Context, req gateway.CashInRequest) (*gateway.CashInResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cashIns++
	if f.cashInErr != nil {
		return nil, f.cashInErr
	}
	f.seq++
	return &gateway.CashInResult{PaymentCode: "pix-code", ProviderTransactionID: fmt.Sprintf("in-%d", f.seq)}, nil
}

func (f *fakeAdapter) CashOut(_ context.Context, req gateway.CashOutRequest) (*gateway.CashOutResult, error) {
	if _, _, err := gateway.ParsePixKey(req.PayeeKey); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cashOuts++
	if f.cashOutErr != nil {
		return nil, f.cashOutErr
	}
	f.seq++
	status := f.cashOutStatus
	if status == "" {
		status = domain.GatewayPending
	}
	return &gateway.CashOutResult{ProviderTransactionID: fmt.Sprintf("out-%d", f.seq), Status: status}, nil
}

func (f *fakeAdapter) ParseWebhook(context.Context, []byte, http.Header) (*domain.WebhookEvent, error) {
	return nil, &gateway.WebhookShapeError{Provider: fakeSlug, Field: "body"}
}

func (f *fakeAdapter) FetchStatus(_ context.Context, id string) (*domain.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.statuses[id]
	if !ok {
		return &domain.WebhookEvent{Provider: fakeSlug, ProviderTransactionID: id, Status: domain.GatewayPending}, nil
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeAdapter) ValidatePayee(key string) error {
	_, _, err := gateway.ParsePixKey(key)
	return err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(typ string) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Alert(_ context.Context, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type memAudit struct {
	mu   sync.Mutex
	logs []*domain.AuditLog
}

func (m *memAudit) Create(_ context.Context, l *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Action)
	}
	return out
}

type harness struct {
	mem         *store.Memory
	locker      *lock.RedisLocker
	adapter     *fakeAdapter
	pub         *recordingPublisher
	alerts      *recordingAlerter
	audit       *memAudit
	settings    *config.Settings
	ledger      *LedgerService
	commissions *CommissionService
	reconciler  *Reconciler
	payments    *PaymentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		mem:      store.NewMemory(),
		locker:   lock.NewRedisLocker(rdb),
		adapter:  &fakeAdapter{statuses: map[string]*domain.WebhookEvent{}},
		pub:      &recordingPublisher{},
		alerts:   &recordingAlerter{},
		audit:    &memAudit{},
		settings: config.DefaultSettings(),
	}
	audit := NewAuditService(h.audit)
	h.ledger = NewLedgerService(h.mem, h.pub, h.settings.Currency)
	h.commissions = NewCommissionService(h.mem, h.ledger, h.settings.Commission)
	h.reconciler = NewReconciler(ReconcilerDeps{
		Store:       h.mem,
		Locker:      h.locker,
		Commissions: h.commissions,
		Publisher:   h.pub,
		Audit:       audit,
		Alerter:     h.alerts,
		Tolerance:   h.settings.Reconcile.AmountTolerance,
	})
	h.payments = NewPaymentService(PaymentDeps{
		Store:        h.mem,
		Gateways:     gateway.NewRegistry(h.adapter),
		Ledger:       h.ledger,
		Reconciler:   h.reconciler,
		Commissions:  h.commissions,
		Audit:        audit,
		Alerter:      h.alerts,
		Settings:     h.settings,
		CallbackBase: "https://pay.example.com/",
	})
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (h *harness) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	u, err := h.mem.User(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func (h *harness) txn(t *testing.T, id uuid.UUID) *domain.Transaction {
	t.Helper()
	tr, err := h.mem.TransactionByID(context.Background(), id)
	require.NoError(t, err)
	return tr
}

// fund credits a user through the ledger so the balance stays explained by entries.
func (h *harness) fund(t *testing.T, userID int64, amount string) {
	t.Helper()
	_, _, err := h.ledger.Post(context.Background(), Posting{
		UserID: userID,
		Kind:   domain.KindAdjustment,
		Reason: domain.ReasonManualAdjustment,
		Amount: dec(amount),
	})
	require.NoError(t, err)
}

func (h *harness) entries(userID int64, reason domain.Reason) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, e := range h.mem.Entries() {
		if e.UserID == userID && e.Reason == reason {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) requireLedgerBalanced(t *testing.T) {
	t.Helper()
	bad, err := h.ledger.VerifyAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, bad, "balances drifted from ledger")
}

func (h *harness) deposit(t *testing.T, userID int64, amount string) *domain.Transaction {
	t.Helper()
	tr, err := h.payments.RequestDeposit(context.Background(), DepositRequest{
		UserID:   userID,
		Provider: fakeSlug,
		Amount:   dec(amount),
		Payer:    gateway.Payer{Name: "Test", Document: "52998224725"},
	})
	require.NoError(t, err)
	return tr
}

func completed(tr *domain.Transaction, amount string) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		Provider:              fakeSlug,
		ProviderTransactionID: tr.ExternalID,
		Status:                domain.GatewayCompleted,
		Amount:                dec(amount),
		Raw:                   []byte(`{}`),
	}
}
