/**
 * @description
 * HTTP handlers for billing-api.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/awnexus/billing-service/internal/app"
	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/internal/store"
	"github.com/awnexus/billing-service/pkg/paymob"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	maxWebhookBody = 1 << 20
	maxJSONBody    = 5 << 20
)

// BillingRunner runs the recurring billing jobs.
type BillingRunner interface {
	RunDueCharges(ctx context.Context) (*app.RunSummary, error)
	ExpireConfirmations(ctx context.Context) (*app.ExpirySummary, error)
}

// WebhookProcessor applies gateway callbacks.
type WebhookProcessor interface {
	HandleCallback(ctx context.Context, body []byte, providedHMAC string) (string, error)
}

// CheckoutProvider serves payment link checkout.
type CheckoutProvider interface {
	GetLink(ctx context.Context, slug string) (*domain.PaymentLinkView, error)
	StartCheckout(ctx context.Context, slug string, req app.CheckoutRequest) (*app.CheckoutSession, error)
}

// CatalogueProvider serves the workflow catalogue.
type CatalogueProvider interface {
	SearchWorkflows(ctx context.Context, q domain.WorkflowQuery) (*domain.WorkflowPage, error)
	Tags(ctx context.Context) ([]string, error)
	Download(ctx context.Context, id string) (string, error)
	Publish(ctx context.Context, req app.PublishWorkflowRequest) (*domain.Workflow, error)
}

// LeadCollector captures contact-form submissions.
type LeadCollector interface {
	Submit(ctx context.Context, lead domain.Lead) (*domain.Lead, error)
}

// AdminOperations are the operator actions.
type AdminOperations interface {
	ListSubscriptions(ctx context.Context, status string, limit int) ([]domain.Subscription, error)
	Pause(ctx context.Context, id string) (*domain.Subscription, error)
	Resume(ctx context.Context, id string) (*domain.Subscription, error)
	Cancel(ctx context.Context, id, reason string) (*domain.Subscription, error)
	SetExchangeRate(ctx context.Context, currency string, rate decimal.Decimal) (*domain.ExchangeRate, error)
}

// Services groups the application services the handlers call.
type Services struct {
	Billing   BillingRunner
	Webhooks  WebhookProcessor
	Checkout  CheckoutProvider
	Catalogue CatalogueProvider
	Leads     LeadCollector
	Admin     AdminOperations
}

// Handler holds the application services that handlers will interact with.
type Handler struct {
	services Services
	logger   *slog.Logger
}

// NewHandler creates a new Handler with the given services.
func NewHandler(services Services, logger *slog.Logger) *Handler {
	return &Handler{services: services, logger: logger}
}

func (h *Handler) handleRunBilling(w http.ResponseWriter, r *http.Request) {
	summary, err := h.services.Billing.RunDueCharges(r.Context())
	if err != nil {
		h.respondWithAppError(w, r, "billing run failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleExpireConfirmations(w http.ResponseWriter, r *http.Request) {
	summary, err := h.services.Billing.ExpireConfirmations(r.Context())
	if err != nil {
		h.respondWithAppError(w, r, "confirmation expiry failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// handlePaymobWebhook answers 2xx for everything the gateway should not redeliver.
func (h *Handler) handlePaymobWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	outcome, err := h.services.Webhooks.HandleCallback(r.Context(), body, r.URL.Query().Get("hmac"))
	switch {
	case errors.Is(err, paymob.ErrInvalidSignature):
		h.logger.Warn("rejected gateway callback with invalid signature", "remote_addr", r.RemoteAddr)
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		return
	case errors.Is(err, paymob.ErrMalformedCallback):
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("gateway callback processing failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Callback processing failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": outcome})
}

func (h *Handler) handleGetPaymentLink(w http.ResponseWriter, r *http.Request) {
	view, err := h.services.Checkout.GetLink(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.respondWithAppError(w, r, "failed to load payment link", err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var req app.CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.services.Checkout.StartCheckout(r.Context(), chi.URLParam(r, "slug"), req)
	if err != nil {
		h.respondWithAppError(w, r, "failed to start checkout", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, session)
}

// parseWorkflowQuery reads q, tags (comma separated or repeated), category, sort, page and page_size.
func parseWorkflowQuery(r *http.Request) domain.WorkflowQuery {
	values := r.URL.Query()
	q := domain.WorkflowQuery{
		Search:   values.Get("q"),
		Category: values.Get("category"),
		Sort:     values.Get("sort"),
	}
	for _, raw := range values["tags"] {
		q.Tags = append(q.Tags, strings.Split(raw, ",")...)
	}
	q.Page, _ = strconv.Atoi(values.Get("page"))
	q.PageSize, _ = strconv.Atoi(values.Get("page_size"))
	return q
}

func (h *Handler) handleSearchWorkflows(w http.ResponseWriter, r *http.Request) {
	page, err := h.services.Catalogue.SearchWorkflows(r.Context(), parseWorkflowQuery(r))
	if err != nil {
		h.respondWithAppError(w, r, "workflow search failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (h *Handler) handleWorkflowTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.services.Catalogue.Tags(r.Context())
	if err != nil {
		h.respondWithAppError(w, r, "failed to list workflow tags", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string][]string{"tags": tags})
}

func (h *Handler) handleDownloadWorkflow(w http.ResponseWriter, r *http.Request) {
	url, err := h.services.Catalogue.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, r, "workflow download failed", err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handler) handlePublishWorkflow(w http.ResponseWriter, r *http.Request) {
	var req app.PublishWorkflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wf, err := h.services.Catalogue.Publish(r.Context(), req)
	if err != nil {
		h.respondWithAppError(w, r, "workflow publish failed", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, wf)
}

func (h *Handler) handleSubmitLead(w http.ResponseWriter, r *http.Request) {
	var lead domain.Lead
	if !decodeJSON(w, r, &lead) {
		return
	}

	saved, err := h.services.Leads.Submit(r.Context(), lead)
	if err != nil {
		h.respondWithAppError(w, r, "lead submission failed", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"id": saved.ID})
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	subs, err := h.services.Admin.ListSubscriptions(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		h.respondWithAppError(w, r, "failed to list subscriptions", err)
		return
	}
	respondWithJSON(w, http.StatusOK, subs)
}

func (h *Handler) handlePauseSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.services.Admin.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, r, "failed to pause subscription", err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleResumeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.services.Admin.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, r, "failed to resume subscription", err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	sub, err := h.services.Admin.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.respondWithAppError(w, r, "failed to cancel subscription", err)
		return
	}
	operator, _ := OperatorFromContext(r.Context())
	h.logger.Info("operator cancelled subscription", "subscription_id", sub.ID, "operator", operator)
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleSetExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	rate, err := h.services.Admin.SetExchangeRate(r.Context(), chi.URLParam(r, "currency"), req.Rate)
	if err != nil {
		h.respondWithAppError(w, r, "failed to set exchange rate", err)
		return
	}
	respondWithJSON(w, http.StatusOK, rate)
}

// decodeJSON decodes the request body and answers 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondWithAppError maps service errors to status codes. Unexpected errors are
// logged and hidden from the client.
func (h *Handler) respondWithAppError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var validation *app.ValidationError
	var gatewayErr *paymob.APIError

	switch {
	case errors.As(err, &validation):
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, store.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, app.ErrRunInProgress),
		errors.Is(err, app.ErrLinkUnavailable),
		errors.Is(err, app.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &gatewayErr):
		h.logger.Error(msg, "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusBadGateway, "Payment gateway error")
	default:
		h.logger.Error(msg, "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
