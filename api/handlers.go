/*
handlers.go - HTTP API handlers for the installment engine

PURPOSE:
  Exposes the agreement lifecycle via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the manager.

ENDPOINTS:
  Agreements:
    POST   /api/agreements                 Create agreement with schedule
    GET    /api/agreements                 List (optional ?status=)
    GET    /api/agreements/{id}            Agreement + installments
    POST   /api/agreements/{id}/approve    Approve
    POST   /api/agreements/{id}/cancel     Cancel

  Orders / customers:
    GET    /api/orders/{orderID}/agreement     Agreement by order
    GET    /api/customers/{id}/agreements      Customer's agreements
    GET    /api/customers/{id}/unpaid          Unpaid installments
    GET    /api/customers/{id}/summary         Position summary

  Installments:
    POST   /api/installments/{id}/pay          Record payment

  Admin:
    POST   /api/admin/backfill-due-dates       Due-date repair

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 402: Insufficient payment
  - 404: Not found
  - 409: Already paid, invalid state, lost concurrent update
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/taqsit/installment-engine/agreement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Manager *agreement.Manager
}

// NewHandler creates a new handler around the given manager.
func NewHandler(mgr *agreement.Manager) *Handler {
	return &Handler{Manager: mgr}
}

// =============================================================================
// AGREEMENT HANDLERS
// =============================================================================

// CreateAgreement creates an agreement with its full installment schedule.
// POST /api/agreements
func (h *Handler) CreateAgreement(w http.ResponseWriter, r *http.Request) {
	var req CreateAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	total, err := parseAmount(req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total_amount", err)
		return
	}
	down, err := parseAmount(req.DownPayment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid down_payment", err)
		return
	}
	rate, err := parseAmount(req.AnnualRatePercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid annual_rate_percent", err)
		return
	}

	ag, err := h.Manager.Create(r.Context(), agreement.CreateParams{
		OrderID:           req.OrderID,
		CustomerID:        req.CustomerID,
		TotalAmount:       total,
		DownPayment:       down,
		InstallmentCount:  req.InstallmentCount,
		AnnualRatePercent: rate,
		GuaranteeType:     req.GuaranteeType,
		OriginDate:        req.OriginDate,
		CreatedBy:         req.CreatedBy,
	})
	if err != nil {
		writeDomainError(w, "Failed to create agreement", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAgreementDTO(ag))
}

// ListAgreements returns all agreements, optionally filtered by status.
// GET /api/agreements?status=APPROVED
func (h *Handler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	var (
		agreements []*agreement.Agreement
		err        error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		agreements, err = h.Manager.ListByStatus(r.Context(),
			agreement.AgreementStatus(strings.ToUpper(status)))
	} else {
		agreements, err = h.Manager.List(r.Context())
	}
	if err != nil {
		writeDomainError(w, "Failed to list agreements", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementDTOs(agreements))
}

// GetAgreement returns one agreement with its installments.
// GET /api/agreements/{id}
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Manager.GetWithInstallments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get agreement", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(detail))
}

// ApproveAgreement moves a pending agreement to APPROVED.
// POST /api/agreements/{id}/approve
func (h *Handler) ApproveAgreement(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Manager.Approve(r.Context(), id, req.Actor); err != nil {
		writeDomainError(w, "Failed to approve agreement", err)
		return
	}

	detail, err := h.Manager.GetWithInstallments(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get agreement", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementDTO(detail.Agreement))
}

// CancelAgreement moves a non-terminal agreement to CANCELLED.
// POST /api/agreements/{id}/cancel
func (h *Handler) CancelAgreement(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Manager.Cancel(r.Context(), id, req.Actor); err != nil {
		writeDomainError(w, "Failed to cancel agreement", err)
		return
	}

	detail, err := h.Manager.GetWithInstallments(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get agreement", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementDTO(detail.Agreement))
}

// =============================================================================
// ORDER / CUSTOMER HANDLERS
// =============================================================================

// GetAgreementByOrder returns the agreement financing an order.
// GET /api/orders/{orderID}/agreement
func (h *Handler) GetAgreementByOrder(w http.ResponseWriter, r *http.Request) {
	ag, err := h.Manager.GetByOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, "Failed to get agreement", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementDTO(ag))
}

// ListCustomerAgreements returns a customer's agreements, newest first.
// GET /api/customers/{id}/agreements
func (h *Handler) ListCustomerAgreements(w http.ResponseWriter, r *http.Request) {
	agreements, err := h.Manager.ListByCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to list agreements", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementDTOs(agreements))
}

// ListCustomerUnpaid returns every unpaid installment across the
// customer's agreements, due date ascending.
// GET /api/customers/{id}/unpaid
func (h *Handler) ListCustomerUnpaid(w http.ResponseWriter, r *http.Request) {
	unpaid, err := h.Manager.UnpaidByCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to list unpaid installments", err)
		return
	}

	dtos := make([]UnpaidInstallmentDTO, len(unpaid))
	for i, u := range unpaid {
		dtos[i] = UnpaidInstallmentDTO{
			AgreementID: u.AgreementID,
			OrderID:     u.OrderID,
			Installment: toInstallmentDTO(u.Installment),
			Overdue:     u.Overdue,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCustomerSummary returns a customer's aggregated position.
// GET /api/customers/{id}/summary
func (h *Handler) GetCustomerSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Manager.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, CustomerSummaryDTO{
		CustomerID:       sum.CustomerID,
		AgreementCount:   sum.AgreementCount,
		OutstandingTotal: sum.OutstandingTotal.String(),
		PaidCount:        sum.PaidCount,
		UnpaidCount:      sum.UnpaidCount,
		OverdueCount:     sum.OverdueCount,
	})
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// PayInstallment records a payment against one installment.
// POST /api/installments/{id}/pay
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	var req PayInstallmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.PaidAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paid_amount", err)
		return
	}

	var paidAt *time.Time
	if req.PaidAt != "" {
		t, err := time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paid_at", err)
			return
		}
		paidAt = &t
	}

	receipt, err := h.Manager.MarkInstallmentPaid(r.Context(), chi.URLParam(r, "id"),
		agreement.PaymentParams{
			PaidBy:      req.PaidBy,
			PaidAmount:  amount,
			PaymentDate: req.PaymentDate,
			PaidAt:      paidAt,
			Notes:       req.Notes,
		})
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentReceiptDTO{
		InstallmentID:      receipt.InstallmentID,
		AgreementID:        receipt.AgreementID,
		PaidAt:             receipt.PaidAt.Format(time.RFC3339),
		PaymentDate:        receipt.PaymentDate.String(),
		PaidAmount:         receipt.PaidAmount.String(),
		AgreementCompleted: receipt.AgreementCompleted,
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// BackfillDueDates recomputes installment due dates from origin dates.
// POST /api/admin/backfill-due-dates
func (h *Handler) BackfillDueDates(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Manager.BackfillDueDates(r.Context(), req.AgreementID)
	if err != nil {
		writeDomainError(w, "Failed to backfill due dates", err)
		return
	}
	writeJSON(w, http.StatusOK, BackfillResponse{Updated: updated})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// writeDomainError maps manager errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case agreement.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, agreement.ErrInsufficientPayment):
		writeError(w, http.StatusPaymentRequired, message, err)
	case errors.Is(err, agreement.ErrAlreadyPaid),
		errors.Is(err, agreement.ErrInvalidState),
		agreement.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case agreement.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
