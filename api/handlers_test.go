package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taqsit/installment-engine/agreement"
	"github.com/taqsit/installment-engine/store/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// 2024-06-15 falls on 1403/03/26.
var apiNow = time.Date(2024, time.June, 15, 10, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mgr := agreement.NewManager(memory.New(), fixedClock{now: apiNow})
	srv := httptest.NewServer(NewRouter(NewHandler(mgr)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func doGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func createRequestBody() CreateAgreementRequest {
	return CreateAgreementRequest{
		OrderID:           "order-1",
		CustomerID:        "cust-1",
		TotalAmount:       "15000000",
		DownPayment:       "3000000",
		InstallmentCount:  12,
		AnnualRatePercent: "36",
		GuaranteeType:     "cheque",
		OriginDate:        "1403/01/15",
		CreatedBy:         "operator-1",
	}
}

func createAgreement(t *testing.T, srv *httptest.Server) AgreementDTO {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/agreements", createRequestBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var dto AgreementDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	return dto
}

// =============================================================================
// AGREEMENT ENDPOINTS
// =============================================================================

func TestCreateAgreementEndpoint(t *testing.T) {
	srv := newTestServer(t)

	dto := createAgreement(t, srv)
	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "PENDING", dto.Status)
	assert.Equal(t, "12000000", dto.PrincipalAmount)
	assert.Equal(t, "1200000", dto.InstallmentAmount)
	assert.Equal(t, "14400000", dto.TotalPayment)
	assert.Equal(t, "2400000", dto.TotalInterest)
	assert.Equal(t, "1403/01/15", dto.OriginDate)
}

func TestCreateAgreementEndpoint_BadInput(t *testing.T) {
	srv := newTestServer(t)

	req := createRequestBody()
	req.OriginDate = "2024/05/01" // Gregorian year
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/agreements", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.NotEmpty(t, errResp.Error)

	req = createRequestBody()
	req.TotalAmount = "lots"
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/agreements", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = createRequestBody()
	req.InstallmentCount = 0
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/agreements", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAgreementEndpoint(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	resp, body := doGet(t, srv.URL+"/api/agreements/"+created.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail AgreementDetailDTO
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, created.ID, detail.Agreement.ID)
	require.Len(t, detail.Installments, 12)
	assert.Equal(t, "1403/02/15", detail.Installments[0].DueDate)
	assert.Equal(t, "1404/01/15", detail.Installments[11].DueDate)
	assert.Equal(t, "PENDING", detail.Installments[0].Status)
	assert.Empty(t, detail.Installments[0].PaidAt)

	resp, _ = doGet(t, srv.URL+"/api/agreements/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAgreementsEndpoint_StatusFilter(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	resp, _ := doJSON(t, http.MethodPost,
		srv.URL+"/api/agreements/"+created.ID+"/approve", ActorRequest{Actor: "manager-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doGet(t, srv.URL+"/api/agreements?status=approved")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []AgreementDTO
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "APPROVED", list[0].Status)
	assert.Equal(t, "manager-1", list[0].ApprovedBy)

	resp, body = doGet(t, srv.URL+"/api/agreements?status=PENDING")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = nil
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list)

	// An unknown filter value is a bad request, not a conflict.
	resp, _ = doGet(t, srv.URL+"/api/agreements?status=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApproveEndpoint_ConflictOnSecondApprove(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	url := srv.URL + "/api/agreements/" + created.ID + "/approve"
	resp, _ := doJSON(t, http.MethodPost, url, ActorRequest{Actor: "manager-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, url, ActorRequest{Actor: "manager-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	resp, body := doJSON(t, http.MethodPost,
		srv.URL+"/api/agreements/"+created.ID+"/cancel", ActorRequest{Actor: "manager-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dto AgreementDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	assert.Equal(t, "CANCELLED", dto.Status)
	assert.Equal(t, "manager-1", dto.CancelledBy)
}

// =============================================================================
// ORDER / CUSTOMER ENDPOINTS
// =============================================================================

func TestGetAgreementByOrderEndpoint(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	resp, body := doGet(t, srv.URL+"/api/orders/order-1/agreement")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dto AgreementDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	assert.Equal(t, created.ID, dto.ID)

	resp, _ = doGet(t, srv.URL+"/api/orders/order-9/agreement")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCustomerEndpoints(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	resp, body := doGet(t, srv.URL+"/api/customers/cust-1/agreements")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []AgreementDTO
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	resp, body = doGet(t, srv.URL+"/api/customers/cust-1/unpaid")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unpaid []UnpaidInstallmentDTO
	require.NoError(t, json.Unmarshal(body, &unpaid))
	require.Len(t, unpaid, 12)
	// First two installments (due 1403/02/15 and 1403/03/15) are past
	// today (1403/03/26).
	assert.True(t, unpaid[0].Overdue)
	assert.True(t, unpaid[1].Overdue)
	assert.False(t, unpaid[2].Overdue)

	resp, body = doGet(t, srv.URL+"/api/customers/cust-1/summary")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum CustomerSummaryDTO
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, 1, sum.AgreementCount)
	assert.Equal(t, 12, sum.UnpaidCount)
	assert.Equal(t, 2, sum.OverdueCount)
	assert.Equal(t, "14400000", sum.OutstandingTotal)
}

// =============================================================================
// PAYMENT ENDPOINT
// =============================================================================

func TestPayInstallmentEndpoint(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	_, body := doGet(t, srv.URL+"/api/agreements/"+created.ID)
	var detail AgreementDetailDTO
	require.NoError(t, json.Unmarshal(body, &detail))
	instID := detail.Installments[0].ID

	payURL := fmt.Sprintf("%s/api/installments/%s/pay", srv.URL, instID)
	resp, body := doJSON(t, http.MethodPost, payURL, PayInstallmentRequest{
		PaidAmount:  "1200000",
		PaymentDate: "1403/02/10",
		PaidBy:      "cashier-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var receipt PaymentReceiptDTO
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.Equal(t, instID, receipt.InstallmentID)
	assert.Equal(t, created.ID, receipt.AgreementID)
	assert.Equal(t, "1403/02/10", receipt.PaymentDate)
	assert.Equal(t, "1200000", receipt.PaidAmount)
	assert.False(t, receipt.AgreementCompleted)

	// Paying again conflicts.
	resp, _ = doJSON(t, http.MethodPost, payURL, PayInstallmentRequest{
		PaidAmount:  "1200000",
		PaymentDate: "1403/02/11",
		PaidBy:      "cashier-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Short payment is rejected.
	shortURL := fmt.Sprintf("%s/api/installments/%s/pay", srv.URL, detail.Installments[1].ID)
	resp, _ = doJSON(t, http.MethodPost, shortURL, PayInstallmentRequest{
		PaidAmount:  "1199999",
		PaymentDate: "1403/02/11",
		PaidBy:      "cashier-1",
	})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	// Unknown installment.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/installments/missing/pay",
		PayInstallmentRequest{PaidAmount: "1200000", PaymentDate: "1403/02/11"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPayInstallmentEndpoint_BackdatedPaidAt(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	_, body := doGet(t, srv.URL+"/api/agreements/"+created.ID)
	var detail AgreementDetailDTO
	require.NoError(t, json.Unmarshal(body, &detail))

	backdated := apiNow.Add(-72 * time.Hour).Format(time.RFC3339)
	payURL := fmt.Sprintf("%s/api/installments/%s/pay", srv.URL, detail.Installments[0].ID)
	resp, body := doJSON(t, http.MethodPost, payURL, PayInstallmentRequest{
		PaidAmount:  "1200000",
		PaymentDate: "1403/02/10",
		PaidAt:      backdated,
		PaidBy:      "cashier-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var receipt PaymentReceiptDTO
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.Equal(t, backdated, receipt.PaidAt)

	// A malformed timestamp is rejected before touching the manager.
	badURL := fmt.Sprintf("%s/api/installments/%s/pay", srv.URL, detail.Installments[1].ID)
	resp, _ = doJSON(t, http.MethodPost, badURL, PayInstallmentRequest{
		PaidAmount:  "1200000",
		PaymentDate: "1403/02/10",
		PaidAt:      "yesterday",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = doGet(t, srv.URL+"/api/agreements/"+created.ID)
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, "PENDING", detail.Installments[1].Status)
}

func TestPayInstallmentEndpoint_FinalPaymentCompletes(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	_, body := doGet(t, srv.URL+"/api/agreements/"+created.ID)
	var detail AgreementDetailDTO
	require.NoError(t, json.Unmarshal(body, &detail))

	var receipt PaymentReceiptDTO
	for _, inst := range detail.Installments {
		payURL := fmt.Sprintf("%s/api/installments/%s/pay", srv.URL, inst.ID)
		resp, body := doJSON(t, http.MethodPost, payURL, PayInstallmentRequest{
			PaidAmount:  inst.Amount,
			PaymentDate: "1403/03/26",
			PaidBy:      "cashier-1",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		require.NoError(t, json.Unmarshal(body, &receipt))
	}
	assert.True(t, receipt.AgreementCompleted)

	_, body = doGet(t, srv.URL+"/api/agreements/"+created.ID)
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, "COMPLETED", detail.Agreement.Status)
}

// =============================================================================
// ADMIN ENDPOINT
// =============================================================================

func TestBackfillEndpoint(t *testing.T) {
	srv := newTestServer(t)
	created := createAgreement(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/admin/backfill-due-dates",
		BackfillRequest{AgreementID: created.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out BackfillResponse
	require.NoError(t, json.Unmarshal(body, &out))
	// The schedule was just computed by the same calendar code: nothing
	// to repair.
	assert.Equal(t, 0, out.Updated)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/admin/backfill-due-dates",
		BackfillRequest{AgreementID: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doGet(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}
