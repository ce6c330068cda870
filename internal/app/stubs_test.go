package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/internal/store"
	"github.com/awnexus/billing-service/pkg/mailer"
	"github.com/awnexus/billing-service/pkg/paymob"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRepo is an in-memory stand-in for store.Repository.
type memRepo struct {
	mu sync.Mutex

	subs     map[string]*domain.Subscription
	links    map[string]*domain.PaymentLink
	rates    map[string]decimal.Decimal
	attempts []*domain.ChargeAttempt
	txs      []*domain.Transaction
	events   map[string]*domain.GatewayEvent
	leads    []domain.Lead

	listErr           error
	applySuccessCalls int
	applyFailureCalls int
	lastFailure       domain.SubscriptionFailure
	linkUses          map[string]int
	nextID            int

	// Injected failures. The *Failures counters fail that many calls, then succeed.
	insertTxErr       error
	markPendingErr    error
	settleFailures    int
	createSubFailures int
	afterInsertTx     func(tx domain.Transaction)
}

var errDatabase = errors.New("database unavailable")

func newMemRepo() *memRepo {
	return &memRepo{
		subs:     map[string]*domain.Subscription{},
		links:    map[string]*domain.PaymentLink{},
		rates:    map[string]decimal.Decimal{},
		events:   map[string]*domain.GatewayEvent{},
		linkUses: map[string]int{},
	}
}

func (r *memRepo) id(prefix string) string {
	r.nextID++
	return fmt.Sprintf("%s-%d", prefix, r.nextID)
}

func (r *memRepo) addLink(link domain.PaymentLink) *domain.PaymentLink {
	r.links[link.ID] = &link
	return &link
}

func (r *memRepo) addSub(sub domain.Subscription) {
	r.subs[sub.ID] = &sub
}

func (r *memRepo) sub(id string) domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.subs[id]
}

func (r *memRepo) GetExchangeRate(ctx context.Context, from, to string) (*domain.ExchangeRate, error) {
	rate, ok := r.rates[from+"/"+to]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &domain.ExchangeRate{FromCurrency: from, ToCurrency: to, Rate: rate}, nil
}

func (r *memRepo) UpsertExchangeRate(ctx context.Context, rate domain.ExchangeRate) (*domain.ExchangeRate, error) {
	r.rates[rate.FromCurrency+"/"+rate.ToCurrency] = rate.Rate
	rate.UpdatedAt = time.Now()
	return &rate, nil
}

func (r *memRepo) ListDueSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Subscription
	for _, s := range r.subs {
		if s.Status == domain.SubscriptionActive && !s.NextPaymentDate.After(now) {
			due = append(due, *s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (r *memRepo) ListSubscriptions(ctx context.Context, status string, limit int) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for _, s := range r.subs {
		if status == "" || s.Status == status {
			out = append(out, *s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) GetPaymentLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	link, ok := r.links[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (r *memRepo) GetPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PaymentLink, error) {
	for _, link := range r.links {
		if link.Slug == slug {
			cp := *link
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) incrementLinkUse(id string) bool {
	link, ok := r.links[id]
	if !ok || (link.MaxUses != nil && link.UseCount >= *link.MaxUses) {
		return false
	}
	link.UseCount++
	r.linkUses[id]++
	return true
}

func (r *memRepo) ClaimChargeAttempt(ctx context.Context, subscriptionID string, dueDate time.Time, attemptNumber int, merchantOrderID string, attemptedAt time.Time) (*domain.ChargeAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.SubscriptionID == subscriptionID && a.DueDate.Equal(dueDate) {
			return nil, nil
		}
	}
	a := &domain.ChargeAttempt{
		ID:              r.id("attempt"),
		SubscriptionID:  subscriptionID,
		DueDate:         dueDate,
		AttemptNumber:   attemptNumber,
		Status:          domain.AttemptClaimed,
		MerchantOrderID: merchantOrderID,
		AttemptedAt:     attemptedAt,
	}
	r.attempts = append(r.attempts, a)
	cp := *a
	return &cp, nil
}

func (r *memRepo) attempt(id string) *domain.ChargeAttempt {
	for _, a := range r.attempts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (r *memRepo) MarkAttemptPending(ctx context.Context, attemptID, gatewayOrderID, transactionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markPendingErr != nil {
		return r.markPendingErr
	}
	a := r.attempt(attemptID)
	if a == nil || a.Status != domain.AttemptClaimed {
		return store.ErrNotFound
	}
	a.Status = domain.AttemptPendingConfirmation
	a.GatewayOrderID = &gatewayOrderID
	a.TransactionID = &transactionID
	return nil
}

// SettleChargeAttempt applies the whole settlement or, on an injected failure, nothing.
func (r *memRepo) SettleChargeAttempt(ctx context.Context, s domain.AttemptSettlement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settleFailures > 0 {
		r.settleFailures--
		return false, errDatabase
	}
	a := r.attempt(s.AttemptID)
	if a == nil || !a.IsOpen() {
		return false, nil
	}
	a.Status = s.Status
	if s.GatewayOrderID != nil {
		a.GatewayOrderID = s.GatewayOrderID
	}
	if s.TransactionID != nil {
		a.TransactionID = s.TransactionID
	}
	a.FailureReason = s.FailureReason
	completedAt := s.CompletedAt
	a.CompletedAt = &completedAt

	if s.TransactionStatus != "" && s.TransactionID != nil {
		r.completePendingTransaction(*s.TransactionID, s.TransactionStatus, s.GatewayTransactionID, s.FailureReason, s.CompletedAt)
	}
	switch {
	case s.Success != nil:
		r.applySubscriptionSuccess(*s.Success)
	case s.Failure != nil:
		r.applySubscriptionFailure(*s.Failure)
	}
	return true, nil
}

func (r *memRepo) GetChargeAttemptByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.ChargeAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.MerchantOrderID == merchantOrderID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) ListStaleAttempts(ctx context.Context, cutoff time.Time) ([]domain.ChargeAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChargeAttempt
	for _, a := range r.attempts {
		if a.IsOpen() && a.AttemptedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	r.mu.Lock()
	if r.insertTxErr != nil {
		r.mu.Unlock()
		return nil, r.insertTxErr
	}
	for _, existing := range r.txs {
		if existing.MerchantOrderID == tx.MerchantOrderID {
			r.mu.Unlock()
			return nil, store.ErrConflict
		}
	}
	tx.ID = r.id("tx")
	r.txs = append(r.txs, &tx)
	cp := tx
	hook := r.afterInsertTx
	r.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return &cp, nil
}

func (r *memRepo) tx(id string) *domain.Transaction {
	for _, t := range r.txs {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r *memRepo) completePendingTransaction(id, status string, gatewayTransactionID, failureReason *string, completedAt time.Time) bool {
	t := r.tx(id)
	if t == nil || t.Status != domain.TransactionPending {
		return false
	}
	t.Status = status
	if gatewayTransactionID != nil {
		t.GatewayTransactionID = gatewayTransactionID
	}
	t.FailureReason = failureReason
	t.CompletedAt = &completedAt
	return true
}

func (r *memRepo) CompleteCheckoutTransaction(ctx context.Context, id, paymentLinkID, status string, gatewayTransactionID, failureReason *string, completedAt time.Time) (bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.completePendingTransaction(id, status, gatewayTransactionID, failureReason, completedAt) {
		return false, false, nil
	}
	counted := false
	if status == domain.TransactionSuccess {
		counted = r.incrementLinkUse(paymentLinkID)
	}
	return true, counted, nil
}

func (r *memRepo) GetTransactionByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.txs {
		if t.MerchantOrderID == merchantOrderID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) applySubscriptionSuccess(s domain.SubscriptionSuccess) {
	r.applySuccessCalls++
	sub := r.subs[s.SubscriptionID]
	sub.RetryCount = 0
	sub.TotalPaymentsMade++
	txID := s.TransactionID
	sub.LastTransactionID = &txID
	if s.NextPaymentDate.After(sub.NextPaymentDate) {
		sub.NextPaymentDate = s.NextPaymentDate
	}
}

func (r *memRepo) applySubscriptionFailure(f domain.SubscriptionFailure) {
	r.applyFailureCalls++
	r.lastFailure = f
	sub := r.subs[f.SubscriptionID]
	if f.Cancel {
		sub.Status = domain.SubscriptionCancelled
		reason := f.Reason
		at := f.CancelledAt
		sub.CancellationReason = &reason
		sub.CancelledAt = &at
		return
	}
	sub.RetryCount = f.RetryCount
	if f.NextPaymentDate.After(sub.NextPaymentDate) {
		sub.NextPaymentDate = f.NextPaymentDate
	}
}

func (r *memRepo) CreateSubscription(ctx context.Context, sub *domain.Subscription, originOrderID string) (*domain.Subscription, bool, error) {
	if r.createSubFailures > 0 {
		r.createSubFailures--
		return nil, false, errDatabase
	}
	for _, existing := range r.subs {
		if existing.LastTransactionID != nil && sub.LastTransactionID != nil && *existing.LastTransactionID == *sub.LastTransactionID {
			cp := *existing
			return &cp, false, nil
		}
	}
	created := *sub
	created.ID = r.id("sub")
	created.Status = domain.SubscriptionActive
	r.subs[created.ID] = &created
	cp := created
	return &cp, true, nil
}

func (r *memRepo) UpdateSubscriptionStatus(ctx context.Context, id, status string) (*domain.Subscription, error) {
	sub, ok := r.subs[id]
	if !ok || sub.Status == domain.SubscriptionCancelled {
		return nil, store.ErrNotFound
	}
	sub.Status = status
	cp := *sub
	return &cp, nil
}

func (r *memRepo) CancelSubscription(ctx context.Context, id, reason string, at time.Time) (*domain.Subscription, error) {
	sub, ok := r.subs[id]
	if !ok || sub.Status == domain.SubscriptionCancelled {
		return nil, store.ErrNotFound
	}
	sub.Status = domain.SubscriptionCancelled
	sub.CancellationReason = &reason
	sub.CancelledAt = &at
	cp := *sub
	return &cp, nil
}

func (r *memRepo) RecordGatewayEvent(ctx context.Context, eventKey, eventType string, payload []byte) (string, bool, error) {
	if existing, ok := r.events[eventKey]; ok {
		if existing.ProcessError == nil {
			return existing.ID, true, nil
		}
		existing.ProcessError = nil
		return existing.ID, false, nil
	}
	ev := &domain.GatewayEvent{ID: r.id("event"), EventKey: eventKey, EventType: eventType, Payload: payload}
	r.events[eventKey] = ev
	return ev.ID, false, nil
}

func (r *memRepo) MarkGatewayEventProcessed(ctx context.Context, id string, processErr *string) error {
	for _, ev := range r.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessError = processErr
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *memRepo) SaveCardTokenForOrder(ctx context.Context, gatewayOrderID, token string) (int64, error) {
	var matched int64
	for _, t := range r.txs {
		if t.GatewayOrderID != nil && *t.GatewayOrderID == gatewayOrderID {
			tok := token
			t.CardToken = &tok
			matched++
			for _, s := range r.subs {
				if t.SubscriptionID != nil && s.ID == *t.SubscriptionID {
					s.CardToken = &tok
				}
			}
		}
	}
	return matched, nil
}

func (r *memRepo) InsertLead(ctx context.Context, lead domain.Lead) (*domain.Lead, error) {
	lead.ID = r.id("lead")
	r.leads = append(r.leads, lead)
	return &lead, nil
}

// gatewayStub scripts the gateway's answers and records the calls made.
type gatewayStub struct {
	mu sync.Mutex

	authErr   error
	orderErr  error
	keyErr    error
	payResult *paymob.PaymentResult
	payErr    error
	orders    []paymob.OrderRequest
	keys      []paymob.PaymentKeyRequest
	payCalls  int
	nextOrder int
}

func (g *gatewayStub) Authenticate(ctx context.Context) (string, error) {
	if g.authErr != nil {
		return "", g.authErr
	}
	return "auth-token", nil
}

func (g *gatewayStub) CreateOrder(ctx context.Context, authToken string, req paymob.OrderRequest) (*paymob.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	g.nextOrder++
	return &paymob.Order{ID: paymob.ID(fmt.Sprintf("%d", 9000+g.nextOrder))}, nil
}

func (g *gatewayStub) CreatePaymentKey(ctx context.Context, authToken string, req paymob.PaymentKeyRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, req)
	if g.keyErr != nil {
		return "", g.keyErr
	}
	return "payment-key-" + req.OrderID.String(), nil
}

func (g *gatewayStub) PayWithToken(ctx context.Context, cardToken, paymentKey string) (*paymob.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payCalls++
	if g.payErr != nil {
		return g.payResult, g.payErr
	}
	if g.payResult != nil {
		return g.payResult, nil
	}
	return &paymob.PaymentResult{ID: "7001", Success: true}, nil
}

func (g *gatewayStub) IframeURL(paymentKey string) string {
	return "https://gateway.test/iframe?payment_token=" + paymentKey
}

// mailerStub records every message it is asked to send.
type mailerStub struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *mailerStub) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *mailerStub) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.Subject)
	}
	return out
}

func (m *mailerStub) sentTo(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.sent {
		for _, to := range msg.To {
			if strings.EqualFold(to, addr) {
				n++
			}
		}
	}
	return n
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       any
}

type publisherStub struct {
	events []publishedEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *publisherStub) keys() []string {
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.routingKey)
	}
	return out
}

// lockerStub hands out the run lease unless held is set.
type lockerStub struct {
	held     bool
	err      error
	released bool
}

func (l *lockerStub) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released = true
		return nil
	}, true, nil
}

var errGatewayDown = errors.New("gateway unavailable")
