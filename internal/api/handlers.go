/**
 * @description
 * HTTP handler functions for the billing service. Handlers parse incoming
 * requests, call the service or store layer, and map domain errors onto
 * HTTP status codes.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/muhabbasim/salla-saas-billing-process/internal/app"
	"github.com/muhabbasim/salla-saas-billing-process/internal/domain"
	"github.com/muhabbasim/salla-saas-billing-process/internal/store"
)

// Handler holds the services the HTTP layer dispatches into.
type Handler struct {
	repo      *store.Repository
	billing   *app.Service
	proration *app.ProrationService
	sweep     *app.Sweep
	logger    *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(repo *store.Repository, billing *app.Service, proration *app.ProrationService, sweep *app.Sweep, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, billing: billing, proration: proration, sweep: sweep, logger: logger}
}

// --- Customers ---

type createCustomerRequest struct {
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	PlanID          uuid.UUID `json:"plan_id"`
	NextBillingDate string    `json:"next_billing_date,omitempty"`
}

// handleCreateCustomer registers a customer directly, without collecting a
// first payment. The subscription endpoint is the payment-collecting path.
func (h *Handler) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		respondWithError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	if req.PlanID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "plan_id is required")
		return
	}

	if _, err := h.repo.GetPlan(r.Context(), req.PlanID); err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			respondWithError(w, http.StatusNotFound, "Plan not found")
			return
		}
		h.internalError(w, "resolve plan", err)
		return
	}

	next := time.Now()
	if req.NextBillingDate != "" {
		parsed, err := time.Parse(time.DateOnly, req.NextBillingDate)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "next_billing_date must be YYYY-MM-DD")
			return
		}
		next = parsed
	}

	customer, err := h.repo.CreateCustomer(r.Context(), &domain.Customer{
		Name:               req.Name,
		Email:              req.Email,
		PlanID:             req.PlanID,
		SubscriptionStatus: domain.SubscriptionActive,
		NextBillingDate:    next,
	})
	if err != nil {
		h.internalError(w, "create customer", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, customer)
}

func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.repo.ListCustomers(r.Context())
	if err != nil {
		h.internalError(w, "list customers", err)
		return
	}
	respondWithJSON(w, http.StatusOK, customers)
}

func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	customer, err := h.repo.GetCustomer(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			respondWithError(w, http.StatusNotFound, "Customer not found")
			return
		}
		h.internalError(w, "get customer", err)
		return
	}
	respondWithJSON(w, http.StatusOK, customer)
}

type updateCustomerRequest struct {
	Name               *string    `json:"name"`
	Email              *string    `json:"email"`
	PlanID             *uuid.UUID `json:"plan_id"`
	SubscriptionStatus *string    `json:"subscription_status"`
	NextBillingDate    *string    `json:"next_billing_date"`
}

// handleUpdateCustomer applies a partial update. Only the enumerated fields
// are updatable; anything else in the payload is ignored.
func (h *Handler) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req updateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	params := store.UpdateCustomerParams{
		Name:   req.Name,
		Email:  req.Email,
		PlanID: req.PlanID,
	}
	if req.SubscriptionStatus != nil {
		status := *req.SubscriptionStatus
		if status != domain.SubscriptionActive && status != domain.SubscriptionCancelled && status != domain.SubscriptionPendingCancellation {
			respondWithError(w, http.StatusBadRequest, "invalid subscription_status")
			return
		}
		params.SubscriptionStatus = &status
	}
	if req.NextBillingDate != nil {
		parsed, err := time.Parse(time.DateOnly, *req.NextBillingDate)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "next_billing_date must be YYYY-MM-DD")
			return
		}
		params.NextBillingDate = &parsed
	}

	customer, err := h.repo.UpdateCustomer(r.Context(), id, params)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			respondWithError(w, http.StatusNotFound, "Customer not found")
			return
		}
		h.internalError(w, "update customer", err)
		return
	}
	respondWithJSON(w, http.StatusOK, customer)
}

// handleCancelCustomer cancels the subscription. The customer row and its
// billing history are kept.
func (h *Handler) handleCancelCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	if err := h.repo.CancelCustomer(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			respondWithError(w, http.StatusNotFound, "Customer not found")
			return
		}
		h.internalError(w, "cancel customer", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "subscription cancelled"})
}

// --- Plans ---

type createPlanRequest struct {
	Name         string `json:"name"`
	BillingCycle string `json:"billing_cycle"`
	PriceCents   int64  `json:"price_cents"`
}

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cycle := domain.BillingCycle(req.BillingCycle)
	if !cycle.Valid() {
		respondWithError(w, http.StatusBadRequest, "billing_cycle must be monthly or yearly")
		return
	}
	if req.PriceCents < 0 {
		respondWithError(w, http.StatusBadRequest, "price_cents must not be negative")
		return
	}

	plan, err := h.repo.CreatePlan(r.Context(), &domain.Plan{
		Name:         req.Name,
		BillingCycle: cycle,
		PriceCents:   req.PriceCents,
		Status:       domain.PlanActive,
	})
	if err != nil {
		h.internalError(w, "create plan", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, plan)
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.repo.ListPlans(r.Context())
	if err != nil {
		h.internalError(w, "list plans", err)
		return
	}
	respondWithJSON(w, http.StatusOK, plans)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	plan, err := h.repo.GetPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			respondWithError(w, http.StatusNotFound, "Plan not found")
			return
		}
		h.internalError(w, "get plan", err)
		return
	}
	respondWithJSON(w, http.StatusOK, plan)
}

// --- Invoices and payments ---

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.repo.ListInvoices(r.Context())
	if err != nil {
		h.internalError(w, "list invoices", err)
		return
	}
	respondWithJSON(w, http.StatusOK, invoices)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	invoice, err := h.repo.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			respondWithError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		h.internalError(w, "get invoice", err)
		return
	}
	respondWithJSON(w, http.StatusOK, invoice)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.repo.ListPayments(r.Context())
	if err != nil {
		h.internalError(w, "list payments", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	payment, err := h.repo.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			respondWithError(w, http.StatusNotFound, "Payment not found")
			return
		}
		h.internalError(w, "get payment", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

// --- Subscription lifecycle ---

type subscribeRequest struct {
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	PlanID uuid.UUID `json:"plan_id"`
	Method string    `json:"payment_method"`
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.PlanID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "email and plan_id are required")
		return
	}
	if req.Method == "" {
		req.Method = "card"
	}

	result, err := h.billing.Subscribe(r.Context(), app.SubscribeParams{
		Name:   req.Name,
		Email:  req.Email,
		PlanID: req.PlanID,
		Method: req.Method,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPlanNotFound):
			respondWithError(w, http.StatusNotFound, "Plan not found")
		case errors.Is(err, app.ErrPlanNotAvailable):
			respondWithError(w, http.StatusUnprocessableEntity, "Plan is not available")
		case errors.Is(err, app.ErrAlreadySubscribed):
			respondWithError(w, http.StatusConflict, "Customer already has an active subscription")
		case errors.Is(err, store.ErrInvoiceExists):
			respondWithError(w, http.StatusConflict, "Customer was already invoiced today")
		default:
			h.internalError(w, "subscribe", err)
		}
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

type changePlanRequest struct {
	CustomerID uuid.UUID `json:"customer_id"`
	NewPlanID  uuid.UUID `json:"new_plan_id"`
}

func (h *Handler) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CustomerID == uuid.Nil || req.NewPlanID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "customer_id and new_plan_id are required")
		return
	}

	result, err := h.proration.ChangePlan(r.Context(), req.CustomerID, req.NewPlanID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrCustomerNotFound):
			respondWithError(w, http.StatusNotFound, "Customer not found")
		case errors.Is(err, store.ErrPlanNotFound):
			respondWithError(w, http.StatusNotFound, "Plan not found")
		case errors.Is(err, app.ErrSubscriptionNotActive):
			respondWithError(w, http.StatusUnprocessableEntity, "Customer does not have an active subscription")
		case errors.Is(err, app.ErrPlanNotAvailable):
			respondWithError(w, http.StatusUnprocessableEntity, "Plan is not available")
		default:
			h.internalError(w, "change plan", err)
		}
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type processPaymentRequest struct {
	InvoiceID    uuid.UUID `json:"invoice_id"`
	AmountCents  int64     `json:"amount_cents"`
	Method       string    `json:"payment_method"`
	BillingCycle string    `json:"billing_cycle"`
}

func (h *Handler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.InvoiceID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "invoice_id is required")
		return
	}
	if req.Method == "" {
		req.Method = "card"
	}

	result, err := h.billing.ProcessPayment(r.Context(), req.InvoiceID, req.AmountCents, req.Method, domain.BillingCycle(req.BillingCycle))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidBillingCycle):
			respondWithError(w, http.StatusBadRequest, "billing_cycle must be monthly or yearly")
		case errors.Is(err, store.ErrInvoiceNotFound):
			respondWithError(w, http.StatusNotFound, "Invoice not found")
		case errors.Is(err, store.ErrInvoiceNotPending):
			respondWithError(w, http.StatusConflict, "Invoice is not pending")
		default:
			h.internalError(w, "process payment", err)
		}
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// handleRunBillingSweep triggers one billing pass on demand, outside the
// cron schedule.
func (h *Handler) handleRunBillingSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweep.Run(r.Context())
	if err != nil {
		h.internalError(w, "billing sweep", err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// --- Helpers ---

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", "op", op, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
}

// respondWithError writes a JSON error body with the given status code.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON is a helper function to write JSON responses.
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
