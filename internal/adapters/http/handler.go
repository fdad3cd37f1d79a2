package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"musicstream-payments/internal/core/domain"
	"musicstream-payments/internal/core/ports"
	"musicstream-payments/internal/upi"
)

// PaymentHandler exposes the payment lifecycle over HTTP: purchase
// creation, owner-scoped status polling, purchase history and the gateway
// webhook.
type PaymentHandler struct {
	service ports.PaymentService
	links   upi.LinkBuilder
	logger  *slog.Logger
	expiry  time.Duration
}

func NewPaymentHandler(service ports.PaymentService, links upi.LinkBuilder, logger *slog.Logger, expiry time.Duration) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		links:   links,
		logger:  logger,
		expiry:  expiry,
	}
}

type lineItemRequest struct {
	CatalogItemID string `json:"catalog_item_id"`
	DeliveryTier  string `json:"delivery_tier"`
}

type createPurchaseRequest struct {
	LineItems []lineItemRequest `json:"line_items"`
}

type createPurchaseResponse struct {
	TransactionID   string    `json:"transaction_id"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentDeepLink string    `json:"payment_deep_link"`
	QRCode          string    `json:"qr_code"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (h *PaymentHandler) HandleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req createPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	items := make([]ports.PurchaseItem, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		tier, err := domain.ParseDeliveryTier(li.DeliveryTier)
		if err != nil {
			writeJSONError(w, "invalid delivery tier: "+li.DeliveryTier, http.StatusBadRequest)
			return
		}
		if li.CatalogItemID == "" {
			writeJSONError(w, "catalog_item_id is required", http.StatusBadRequest)
			return
		}
		items = append(items, ports.PurchaseItem{CatalogItemID: li.CatalogItemID, Tier: tier})
	}

	tx, err := h.service.CreatePurchase(r.Context(), userID, items)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	link := h.links.PaymentLink(*tx)
	qr, err := upi.QRDataURL(link)
	if err != nil {
		h.logger.Error("failed to render QR code", "transaction_id", tx.ID, "error", err)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createPurchaseResponse{
		TransactionID:   tx.ID.String(),
		Amount:          tx.TotalAmount.StringFixed(2),
		Currency:        tx.Currency,
		PaymentDeepLink: link,
		QRCode:          qr,
		ExpiresAt:       tx.ExpiresAt(h.expiry),
	})
}

type statusResponse struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *PaymentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		writeJSONError(w, "invalid transaction id", http.StatusBadRequest)
		return
	}

	tx, err := h.service.GetStatus(r.Context(), id, userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		TransactionID: tx.ID.String(),
		Status:        string(tx.Status),
		Amount:        tx.TotalAmount.StringFixed(2),
		CreatedAt:     tx.CreatedAt,
	})
}

type historyItem struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	ItemCount     int       `json:"item_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type historyResponse struct {
	Payments   []historyItem `json:"payments"`
	Pagination struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
		Total int `json:"total"`
		Pages int `json:"pages"`
	} `json:"pagination"`
}

func (h *PaymentHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	txs, total, err := h.service.History(r.Context(), userID, page, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	resp := historyResponse{Payments: make([]historyItem, 0, len(txs))}
	for _, tx := range txs {
		resp.Payments = append(resp.Payments, historyItem{
			TransactionID: tx.ID.String(),
			Status:        string(tx.Status),
			Amount:        tx.TotalAmount.StringFixed(2),
			ItemCount:     len(tx.LineItems),
			CreatedAt:     tx.CreatedAt,
		})
	}
	resp.Pagination.Page = page
	resp.Pagination.Limit = limit
	resp.Pagination.Total = total
	resp.Pagination.Pages = (total + limit - 1) / limit

	writeJSON(w, http.StatusOK, resp)
}

type webhookRequest struct {
	TransactionID    string `json:"transaction_id"`
	Outcome          string `json:"outcome"`
	GatewayReference string `json:"gateway_reference"`
}

// HandleWebhook applies a gateway callback. Fresh transitions and duplicate
// deliveries both get a success acknowledgement; the gateway cannot tell
// them apart and must not retry either.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := uuid.Parse(req.TransactionID)
	if err != nil {
		writeJSONError(w, "invalid transaction id", http.StatusBadRequest)
		return
	}

	if err := h.service.HandleGatewayCallback(r.Context(), id, req.Outcome, req.GatewayReference); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Webhooks never originate transactions.
			writeJSONError(w, "payment not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrReconciliationFailed):
			// Left pending; a gateway retry will redeliver.
			writeJSONError(w, "webhook processing failed", http.StatusInternalServerError)
		default:
			h.logger.Error("unexpected error during webhook processing", "error", err)
			writeJSONError(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// respondServiceError translates the domain error taxonomy into HTTP
// responses. Every service error kind is handled explicitly; anything
// unknown is a 500 and gets logged.
func (h *PaymentHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTier),
		errors.Is(err, domain.ErrZeroAmount):
		writeJSONError(w, err.Error(), http.StatusBadRequest)

	case errors.Is(err, domain.ErrItemUnavailable),
		errors.Is(err, domain.ErrNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)

	case errors.Is(err, domain.ErrForbidden):
		writeJSONError(w, "forbidden", http.StatusForbidden)

	case errors.Is(err, domain.ErrNotRefundable),
		errors.Is(err, domain.ErrDuplicateID):
		writeJSONError(w, err.Error(), http.StatusConflict)

	case errors.Is(err, domain.ErrStorageUnavailable):
		h.logger.Warn("temporary failure in external dependency", "error", err)
		writeJSONError(w, "service temporarily unavailable", http.StatusServiceUnavailable)

	default:
		h.logger.Error("unexpected service error", "error", err)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
