package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"musicstream-payments/internal/core/domain"
	"musicstream-payments/internal/core/ports"
	"musicstream-payments/internal/upi"
)

// Mock - implementation of the payment service
type MockService struct {
	mock.Mock
}

func (m *MockService) CreatePurchase(ctx context.Context, userID string, items []ports.PurchaseItem) (*domain.Transaction, error) {
	args := m.Called(ctx, userID, items)
	if tx := args.Get(0); tx != nil {
		return tx.(*domain.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) GetStatus(ctx context.Context, id uuid.UUID, requestingUserID string) (*domain.Transaction, error) {
	args := m.Called(ctx, id, requestingUserID)
	if tx := args.Get(0); tx != nil {
		return tx.(*domain.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) HandleGatewayCallback(ctx context.Context, id uuid.UUID, outcome, gatewayReference string) error {
	args := m.Called(ctx, id, outcome, gatewayReference)
	return args.Error(0)
}

func (m *MockService) History(ctx context.Context, userID string, page, limit int) ([]domain.Transaction, int, error) {
	args := m.Called(ctx, userID, page, limit)
	return args.Get(0).([]domain.Transaction), args.Int(1), args.Error(2)
}

func (m *MockService) Refund(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func testHandler(svc ports.PaymentService) *PaymentHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	links := upi.LinkBuilder{VPA: "merchant@upi", MerchantName: "MusicStream Pro"}
	return NewPaymentHandler(svc, links, logger, 15*time.Minute)
}

func authedRequest(method, target string, body []byte, userID string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(r.Context(), userIDContextKey, userID)
	return r.WithContext(ctx)
}

func sampleTx() *domain.Transaction {
	return &domain.Transaction{
		ID:     uuid.New(),
		UserID: "user-1",
		LineItems: []domain.LineItem{
			{CatalogItemID: "track-1", Tier: domain.TierLossless, ChargedPrice: decimal.RequireFromString("40")},
		},
		TotalAmount: decimal.RequireFromString("40"),
		Currency:    "INR",
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestHandleCreatePurchase_Success(t *testing.T) {
	svc := new(MockService)
	tx := sampleTx()
	svc.On("CreatePurchase", mock.Anything, "user-1", mock.Anything).Return(tx, nil)

	body := []byte(`{"line_items":[{"catalog_item_id":"track-1","delivery_tier":"lossless"}]}`)
	rec := httptest.NewRecorder()
	testHandler(svc).HandleCreatePurchase(rec, authedRequest(http.MethodPost, "/api/v1/purchases", body, "user-1"))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createPurchaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, tx.ID.String(), resp.TransactionID)
	assert.Equal(t, "40.00", resp.Amount)
	assert.Contains(t, resp.PaymentDeepLink, "upi://pay?")
	assert.Contains(t, resp.QRCode, "data:image/png;base64,")
	assert.Equal(t, tx.CreatedAt.Add(15*time.Minute), resp.ExpiresAt.UTC())

	svc.AssertExpectations(t)
}

func TestHandleCreatePurchase_BadTier(t *testing.T) {
	svc := new(MockService)

	body := []byte(`{"line_items":[{"catalog_item_id":"track-1","delivery_tier":"8k"}]}`)
	rec := httptest.NewRecorder()
	testHandler(svc).HandleCreatePurchase(rec, authedRequest(http.MethodPost, "/api/v1/purchases", body, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "CreatePurchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCreatePurchase_ItemUnavailable(t *testing.T) {
	svc := new(MockService)
	svc.On("CreatePurchase", mock.Anything, "user-1", mock.Anything).
		Return(nil, domain.ErrItemUnavailable)

	body := []byte(`{"line_items":[{"catalog_item_id":"gone","delivery_tier":"low"}]}`)
	rec := httptest.NewRecorder()
	testHandler(svc).HandleCreatePurchase(rec, authedRequest(http.MethodPost, "/api/v1/purchases", body, "user-1"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreatePurchase_ZeroAmount(t *testing.T) {
	svc := new(MockService)
	svc.On("CreatePurchase", mock.Anything, "user-1", mock.Anything).
		Return(nil, domain.ErrZeroAmount)

	body := []byte(`{"line_items":[{"catalog_item_id":"free","delivery_tier":"low"}]}`)
	rec := httptest.NewRecorder()
	testHandler(svc).HandleCreatePurchase(rec, authedRequest(http.MethodPost, "/api/v1/purchases", body, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func statusRouter(h *PaymentHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/purchases/{transactionID}/status", h.HandleStatus)
	return r
}

func TestHandleStatus_Success(t *testing.T) {
	svc := new(MockService)
	tx := sampleTx()
	svc.On("GetStatus", mock.Anything, tx.ID, "user-1").Return(tx, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/purchases/"+tx.ID.String()+"/status", nil, "user-1")
	statusRouter(testHandler(svc)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "40.00", resp.Amount)
}

func TestHandleStatus_Forbidden(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	svc.On("GetStatus", mock.Anything, id, "intruder").Return(nil, domain.ErrForbidden)

	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/purchases/"+id.String()+"/status", nil, "intruder")
	statusRouter(testHandler(svc)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleStatus_BadID(t *testing.T) {
	svc := new(MockService)

	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/purchases/not-a-uuid/status", nil, "user-1")
	statusRouter(testHandler(svc)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_SuccessAndDuplicateBothAck(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	// The service absorbs duplicates internally, so from the handler's
	// point of view both deliveries return nil.
	svc.On("HandleGatewayCallback", mock.Anything, id, "SUCCESS", "GW-1").Return(nil).Twice()

	body := []byte(`{"transaction_id":"` + id.String() + `","outcome":"SUCCESS","gateway_reference":"GW-1"}`)
	h := testHandler(svc)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, httptest.NewRequest(http.MethodPost, "/webhook/upi", bytes.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	}
	svc.AssertExpectations(t)
}

func TestHandleWebhook_ReconciliationFailure(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	svc.On("HandleGatewayCallback", mock.Anything, id, "SUCCESS", "GW-1").
		Return(domain.ErrReconciliationFailed)

	body := []byte(`{"transaction_id":"` + id.String() + `","outcome":"SUCCESS","gateway_reference":"GW-1"}`)
	rec := httptest.NewRecorder()
	testHandler(svc).HandleWebhook(rec, httptest.NewRequest(http.MethodPost, "/webhook/upi", bytes.NewReader(body)))

	// A 5xx tells the gateway to redeliver; the transaction is still pending.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleWebhook_UnknownTransaction(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	svc.On("HandleGatewayCallback", mock.Anything, id, "SUCCESS", "GW-1").Return(domain.ErrNotFound)

	body := []byte(`{"transaction_id":"` + id.String() + `","outcome":"SUCCESS","gateway_reference":"GW-1"}`)
	rec := httptest.NewRecorder()
	testHandler(svc).HandleWebhook(rec, httptest.NewRequest(http.MethodPost, "/webhook/upi", bytes.NewReader(body)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewaySignatureMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	secret := "webhook-secret"

	var reached bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.NotEmpty(t, body, "body must be restored for the handler")
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	wrapped := GatewaySignatureMiddleware(secret, logger)(inner)

	body := []byte(`{"transaction_id":"x"}`)

	t.Run("valid signature", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPost, "/webhook/upi", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, SignWebhookBody(secret, body))
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, reached)
	})

	t.Run("wrong signature", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPost, "/webhook/upi", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, SignWebhookBody("other-secret", body))
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, reached)
	})

	t.Run("missing signature", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPost, "/webhook/upi", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, reached)
	})
}

func TestHandleHistory(t *testing.T) {
	svc := new(MockService)
	tx := sampleTx()
	svc.On("History", mock.Anything, "user-1", 2, 5).
		Return([]domain.Transaction{*tx}, 11, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/purchases/history?page=2&limit=5", nil, "user-1")
	testHandler(svc).HandleHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Payments, 1)
	assert.Equal(t, 11, resp.Pagination.Total)
	assert.Equal(t, 3, resp.Pagination.Pages)
}
