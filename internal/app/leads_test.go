package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/awnexus/billing-service/internal/domain"
)

func TestSubmitLeadStoresAndNotifies(t *testing.T) {
	repo := newMemRepo()
	mail := &mailerStub{}
	svc := NewLeadService(repo, NewNotifier(mail, operatorEmail), discardLogger())

	lead, err := svc.Submit(context.Background(), domain.Lead{
		Name:    "  Omar ",
		Email:   "Omar@Example.com",
		Message: "We need an onboarding workflow.",
		Source:  "pricing",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if lead.ID == "" || lead.Name != "Omar" || lead.Email != "omar@example.com" {
		t.Fatalf("unexpected lead: %+v", lead)
	}
	if mail.sentTo(operatorEmail) != 1 {
		t.Fatalf("expected operator email, got %v", mail.subjects())
	}
	if !strings.Contains(mail.sent[0].HTML, "onboarding workflow") {
		t.Fatal("expected lead message in the email body")
	}
}

func TestSubmitLeadKeepsLeadWhenEmailFails(t *testing.T) {
	repo := newMemRepo()
	mail := &mailerStub{err: errors.New("smtp down")}
	svc := NewLeadService(repo, NewNotifier(mail, operatorEmail), discardLogger())

	if _, err := svc.Submit(context.Background(), domain.Lead{Name: "Omar", Email: "omar@example.com", Message: "hi"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(repo.leads) != 1 {
		t.Fatal("lead must be stored even when the email fails")
	}
}

func TestSubmitLeadValidation(t *testing.T) {
	tests := []struct {
		name  string
		lead  domain.Lead
		field string
	}{
		{name: "missing name", lead: domain.Lead{Email: "a@b.co", Message: "hi"}, field: "name"},
		{name: "bad email", lead: domain.Lead{Name: "A", Email: "nope", Message: "hi"}, field: "email"},
		{name: "empty message", lead: domain.Lead{Name: "A", Email: "a@b.co", Message: "  "}, field: "message"},
		{name: "long message", lead: domain.Lead{Name: "A", Email: "a@b.co", Message: strings.Repeat("x", maxLeadMessage+1)}, field: "message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := NewLeadService(repo, NewNotifier(&mailerStub{}, operatorEmail), discardLogger())

			_, err := svc.Submit(context.Background(), tt.lead)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("expected %s validation error, got %v", tt.field, err)
			}
			if len(repo.leads) != 0 {
				t.Fatal("invalid lead must not be stored")
			}
		})
	}
}
