/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

CONVENTIONS:
  - Monetary fields are decimal strings of whole currency units
    ("12000000"), never floats: the amounts are exact and some exceed
    float64's integer range in rial.
  - Calendar fields are Jalali "YYYY/MM/DD" strings.
  - *DTO: response types; *Request: request body types.

VALIDATION:
  DTOs are pure data carriers. Validation happens in the manager; handlers
  only translate its errors to HTTP statuses.

SEE ALSO:
  - handlers.go: uses these types
  - agreement/: the domain model these project
*/
package api

import (
	"time"

	"github.com/taqsit/installment-engine/agreement"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateAgreementRequest is the request to create a financing agreement.
type CreateAgreementRequest struct {
	OrderID           string `json:"order_id"`
	CustomerID        string `json:"customer_id"`
	TotalAmount       string `json:"total_amount"`
	DownPayment       string `json:"down_payment"`
	InstallmentCount  int    `json:"installment_count"`
	AnnualRatePercent string `json:"annual_rate_percent"`
	GuaranteeType     string `json:"guarantee_type"`
	OriginDate        string `json:"origin_date"`
	CreatedBy         string `json:"created_by"`
}

// ActorRequest carries the acting user for approve/cancel.
type ActorRequest struct {
	Actor string `json:"actor"`
}

// PayInstallmentRequest is the request to record a payment. PaidAt is an
// optional RFC3339 timestamp for backdated entry; when absent the server
// clock stamps the payment.
type PayInstallmentRequest struct {
	PaidAmount  string `json:"paid_amount"`
	PaymentDate string `json:"payment_date"`
	PaidAt      string `json:"paid_at,omitempty"`
	PaidBy      string `json:"paid_by"`
	Notes       string `json:"notes,omitempty"`
}

// BackfillRequest scopes the due-date backfill. An empty agreement id
// means every agreement.
type BackfillRequest struct {
	AgreementID string `json:"agreement_id,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AgreementDTO represents an agreement in API responses.
type AgreementDTO struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`

	TotalAmount     string `json:"total_amount"`
	DownPayment     string `json:"down_payment"`
	PrincipalAmount string `json:"principal_amount"`

	InstallmentCount   int    `json:"installment_count"`
	AnnualRatePercent  string `json:"annual_rate_percent"`
	MonthlyRatePercent string `json:"monthly_rate_percent"`
	InstallmentAmount  string `json:"installment_amount"`
	TotalInterest      string `json:"total_interest"`
	TotalPayment       string `json:"total_payment"`

	GuaranteeType string `json:"guarantee_type,omitempty"`
	OriginDate    string `json:"origin_date"`

	Status      string `json:"status"`
	CreatedBy   string `json:"created_by,omitempty"`
	ApprovedBy  string `json:"approved_by,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// InstallmentDTO represents one installment in API responses.
type InstallmentDTO struct {
	ID          string `json:"id"`
	AgreementID string `json:"agreement_id"`
	Number      int    `json:"number"`

	DueDate   string `json:"due_date"`
	Amount    string `json:"amount"`
	Interest  string `json:"interest"`
	Principal string `json:"principal"`
	Remaining string `json:"remaining"`

	Status string `json:"status"`

	PaidAt      string `json:"paid_at,omitempty"`
	PaymentDate string `json:"payment_date,omitempty"`
	PaidAmount  string `json:"paid_amount,omitempty"`
	PaidBy      string `json:"paid_by,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// AgreementDetailDTO is an agreement with its full installment set.
type AgreementDetailDTO struct {
	Agreement    AgreementDTO     `json:"agreement"`
	Installments []InstallmentDTO `json:"installments"`
}

// UnpaidInstallmentDTO is an unpaid installment with its parent reference.
type UnpaidInstallmentDTO struct {
	AgreementID string         `json:"agreement_id"`
	OrderID     string         `json:"order_id"`
	Installment InstallmentDTO `json:"installment"`
	Overdue     bool           `json:"overdue"`
}

// CustomerSummaryDTO aggregates a customer's position.
type CustomerSummaryDTO struct {
	CustomerID       string `json:"customer_id"`
	AgreementCount   int    `json:"agreement_count"`
	OutstandingTotal string `json:"outstanding_total"`
	PaidCount        int    `json:"paid_count"`
	UnpaidCount      int    `json:"unpaid_count"`
	OverdueCount     int    `json:"overdue_count"`
}

// PaymentReceiptDTO reports a recorded payment.
type PaymentReceiptDTO struct {
	InstallmentID      string `json:"installment_id"`
	AgreementID        string `json:"agreement_id"`
	PaidAt             string `json:"paid_at"`
	PaymentDate        string `json:"payment_date"`
	PaidAmount         string `json:"paid_amount"`
	AgreementCompleted bool   `json:"agreement_completed"`
}

// BackfillResponse reports a backfill run.
type BackfillResponse struct {
	Updated int `json:"updated"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAgreementDTO(ag *agreement.Agreement) AgreementDTO {
	return AgreementDTO{
		ID:                 ag.ID,
		OrderID:            ag.OrderID,
		CustomerID:         ag.CustomerID,
		TotalAmount:        ag.TotalAmount.String(),
		DownPayment:        ag.DownPayment.String(),
		PrincipalAmount:    ag.PrincipalAmount.String(),
		InstallmentCount:   ag.InstallmentCount,
		AnnualRatePercent:  ag.AnnualRatePercent.String(),
		MonthlyRatePercent: ag.MonthlyRatePercent.String(),
		InstallmentAmount:  ag.InstallmentAmount.String(),
		TotalInterest:      ag.TotalInterest.String(),
		TotalPayment:       ag.TotalPayment.String(),
		GuaranteeType:      ag.GuaranteeType,
		OriginDate:         ag.OriginDate.String(),
		Status:             string(ag.Status),
		CreatedBy:          ag.CreatedBy,
		ApprovedBy:         ag.ApprovedBy,
		CancelledBy:        ag.CancelledBy,
		CreatedAt:          ag.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          ag.UpdatedAt.Format(time.RFC3339),
	}
}

func toAgreementDTOs(agreements []*agreement.Agreement) []AgreementDTO {
	dtos := make([]AgreementDTO, len(agreements))
	for i, ag := range agreements {
		dtos[i] = toAgreementDTO(ag)
	}
	return dtos
}

func toInstallmentDTO(inst *agreement.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		ID:          inst.ID,
		AgreementID: inst.AgreementID,
		Number:      inst.Number,
		DueDate:     inst.DueDate.String(),
		Amount:      inst.Amount.String(),
		Interest:    inst.Interest.String(),
		Principal:   inst.Principal.String(),
		Remaining:   inst.Remaining.String(),
		Status:      string(inst.Status),
		PaidBy:      inst.PaidBy,
		Notes:       inst.Notes,
	}
	if inst.PaidAt != nil {
		dto.PaidAt = inst.PaidAt.Format(time.RFC3339)
	}
	if !inst.PaymentDate.IsZero() {
		dto.PaymentDate = inst.PaymentDate.String()
	}
	if !inst.PaidAmount.IsZero() {
		dto.PaidAmount = inst.PaidAmount.String()
	}
	return dto
}

func toDetailDTO(detail *agreement.AgreementDetail) AgreementDetailDTO {
	dto := AgreementDetailDTO{
		Agreement:    toAgreementDTO(detail.Agreement),
		Installments: make([]InstallmentDTO, len(detail.Installments)),
	}
	for i, inst := range detail.Installments {
		dto.Installments[i] = toInstallmentDTO(inst)
	}
	return dto
}
