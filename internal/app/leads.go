package app

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/awnexus/billing-service/internal/domain"
)

const maxLeadMessage = 5000

// LeadRepository persists contact-form submissions.
type LeadRepository interface {
	InsertLead(ctx context.Context, lead domain.Lead) (*domain.Lead, error)
}

// LeadService captures leads and forwards them to the operator.
type LeadService struct {
	repo     LeadRepository
	notifier *Notifier
	logger   *slog.Logger
}

// NewLeadService creates a new lead service.
func NewLeadService(repo LeadRepository, notifier *Notifier, logger *slog.Logger) *LeadService {
	return &LeadService{repo: repo, notifier: notifier, logger: logger}
}

// Submit validates and stores a lead. The operator email is best effort.
func (s *LeadService) Submit(ctx context.Context, lead domain.Lead) (*domain.Lead, error) {
	lead.Name = strings.TrimSpace(lead.Name)
	lead.Company = strings.TrimSpace(lead.Company)
	lead.Message = strings.TrimSpace(lead.Message)
	lead.Source = strings.TrimSpace(lead.Source)

	if lead.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(lead.Email))
	if err != nil {
		return nil, &ValidationError{Field: "email", Message: "is not a valid email address"}
	}
	lead.Email = strings.ToLower(addr.Address)
	if lead.Message == "" {
		return nil, &ValidationError{Field: "message", Message: "is required"}
	}
	if len(lead.Message) > maxLeadMessage {
		return nil, &ValidationError{Field: "message", Message: "is too long"}
	}

	saved, err := s.repo.InsertLead(ctx, lead)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.LeadReceived(ctx, *saved); err != nil {
		s.logger.Error("failed to forward lead", "lead_id", saved.ID, "error", err)
	}
	return saved, nil
}
