package app

import (
	"context"
	"errors"
	"testing"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/internal/store"
	"github.com/juju/clock/testclock"
	"github.com/shopspring/decimal"
)

func newAdminFixture(t *testing.T) (*AdminService, *memRepo, *publisherStub) {
	t.Helper()
	repo := newMemRepo()
	repo.addSub(dueSubscription("sub-1", 0))
	publisher := &publisherStub{}
	svc := NewAdminService(repo, publisher, testclock.NewClock(runTime), discardLogger(), BillingOptions{})
	return svc, repo, publisher
}

func TestAdminPauseAndResume(t *testing.T) {
	svc, repo, _ := newAdminFixture(t)

	sub, err := svc.Pause(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if sub.Status != domain.SubscriptionPaused {
		t.Fatalf("expected paused, got %s", sub.Status)
	}
	if _, err := svc.Pause(context.Background(), "sub-1"); err != nil {
		t.Fatalf("pausing twice should be a no-op, got %v", err)
	}

	sub, err = svc.Resume(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if sub.Status != domain.SubscriptionActive || repo.sub("sub-1").Status != domain.SubscriptionActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
}

func TestAdminCancelIsTerminal(t *testing.T) {
	svc, repo, publisher := newAdminFixture(t)

	sub, err := svc.Cancel(context.Background(), "sub-1", "")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if sub.Status != domain.SubscriptionCancelled || sub.CancelledAt == nil || !sub.CancelledAt.Equal(runTime) {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if *repo.sub("sub-1").CancellationReason != "Cancelled by operator" {
		t.Fatal("expected default cancellation reason")
	}
	if keys := publisher.keys(); len(keys) != 1 || keys[0] != domain.EventSubscriptionCancelled {
		t.Fatalf("unexpected events: %v", keys)
	}

	if _, err := svc.Resume(context.Background(), "sub-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on resume, got %v", err)
	}
	if _, err := svc.Cancel(context.Background(), "sub-1", "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second cancel, got %v", err)
	}
}

func TestAdminUnknownSubscription(t *testing.T) {
	svc, _, _ := newAdminFixture(t)

	if _, err := svc.Pause(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdminListSubscriptionsValidatesStatus(t *testing.T) {
	svc, _, _ := newAdminFixture(t)

	if _, err := svc.ListSubscriptions(context.Background(), "deleted", 10); err == nil {
		t.Fatal("expected invalid status to be rejected")
	}
	subs, err := svc.ListSubscriptions(context.Background(), domain.SubscriptionActive, 0)
	if err != nil {
		t.Fatalf("ListSubscriptions() error = %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected one active subscription, got %d", len(subs))
	}
}

func TestAdminSetExchangeRate(t *testing.T) {
	svc, repo, _ := newAdminFixture(t)

	rate, err := svc.SetExchangeRate(context.Background(), " usd ", decimal.RequireFromString("48.75"))
	if err != nil {
		t.Fatalf("SetExchangeRate() error = %v", err)
	}
	if rate.FromCurrency != "USD" || rate.ToCurrency != "EGP" {
		t.Fatalf("unexpected pair %s/%s", rate.FromCurrency, rate.ToCurrency)
	}
	if !repo.rates["USD/EGP"].Equal(decimal.RequireFromString("48.75")) {
		t.Fatal("expected rate to be stored")
	}

	tests := []struct {
		name     string
		currency string
		rate     string
	}{
		{name: "bad code", currency: "dollars", rate: "1"},
		{name: "settlement currency", currency: "EGP", rate: "1"},
		{name: "zero rate", currency: "EUR", rate: "0"},
		{name: "negative rate", currency: "EUR", rate: "-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SetExchangeRate(context.Background(), tt.currency, decimal.RequireFromString(tt.rate))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
