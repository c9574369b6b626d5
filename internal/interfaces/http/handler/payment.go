package handler

import (
	"context"
	"strings"

	appledger "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/erp/ledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdempotencyKeyHeader lets clients retry POST safely
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 255

// PaymentService is the part of the ledger service the HTTP API drives
type PaymentService interface {
	GetInvoicePayments(ctx context.Context, tenantID, invoiceID uuid.UUID) (*appledger.InvoicePaymentsResult, error)
	RecordPayment(ctx context.Context, req appledger.RecordPaymentRequest) (*appledger.PaymentResult, error)
	UpdatePayment(ctx context.Context, req appledger.UpdatePaymentRequest) (*appledger.PaymentResult, error)
	DeletePayment(ctx context.Context, req appledger.DeletePaymentRequest) (*appledger.PaymentResult, error)
}

// PaymentHandler serves the payment ledger of an invoice
type PaymentHandler struct {
	BaseHandler
	service PaymentService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(service PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// ListPayments godoc
// @Summary      List invoice payments
// @Description  Ledger of the invoice in replay order with running balances
// @Tags         payments
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      200 {object} Envelope[appledger.InvoicePaymentsResult]
// @Failure      404 {object} ErrorEnvelope
// @Router       /invoices/{id}/payments [get]
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	var params dto.InvoicePathParams
	if err := c.ShouldBindUri(&params); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	result, err := h.service.GetInvoicePayments(c.Request.Context(), tenantID, uuid.MustParse(params.InvoiceID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// RecordPayment godoc
// @Summary      Record a payment
// @Description  Appends a transaction; an overpayment also books a credit for the excess
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        Idempotency-Key header string false "Client retry key"
// @Param        request body dto.RecordPaymentRequest true "Transaction"
// @Success      201 {object} Envelope[appledger.PaymentResult]
// @Failure      400 {object} ErrorEnvelope
// @Failure      409 {object} ErrorEnvelope
// @Failure      422 {object} ErrorEnvelope
// @Router       /invoices/{id}/payments [post]
func (h *PaymentHandler) RecordPayment(c *gin.Context) {
	var params dto.InvoicePathParams
	if err := c.ShouldBindUri(&params); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	var req dto.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}
	date, err := dto.ParseDate(req.Date)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLength {
		h.ValidationError(c, []dto.ValidationDetail{{Field: IdempotencyKeyHeader, Message: "Must be at most 255 characters"}})
		return
	}

	result, err := h.service.RecordPayment(c.Request.Context(), appledger.RecordPaymentRequest{
		TenantID:       tenantID,
		InvoiceID:      uuid.MustParse(params.InvoiceID),
		UserID:         getUserID(c),
		Type:           req.Type,
		Amount:         req.Amount,
		Date:           date,
		Method:         req.Method,
		Memo:           req.Memo,
		IdempotencyKey: key,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// UpdatePayment godoc
// @Summary      Update a transaction
// @Description  Partial update; the ledger is replayed and every snapshot rewritten
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        payment_id path string true "Transaction ID" format(uuid)
// @Param        request body dto.UpdatePaymentRequest true "Changed fields"
// @Success      200 {object} Envelope[appledger.PaymentResult]
// @Failure      404 {object} ErrorEnvelope
// @Router       /invoices/{id}/payments/{payment_id} [put]
func (h *PaymentHandler) UpdatePayment(c *gin.Context) {
	var params dto.PaymentPathParams
	if err := c.ShouldBindUri(&params); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	var req dto.UpdatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if req.IsEmpty() {
		h.BadRequest(c, "At least one field must be provided")
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	update := appledger.UpdatePaymentRequest{
		TenantID:  tenantID,
		InvoiceID: uuid.MustParse(params.InvoiceID),
		PaymentID: uuid.MustParse(params.PaymentID),
		UserID:    getUserID(c),
		Type:      req.Type,
		Amount:    req.Amount,
		Method:    req.Method,
		Memo:      req.Memo,
	}
	if req.Date != nil {
		date, err := dto.ParseDate(*req.Date)
		if err != nil {
			h.BadRequest(c, err.Error())
			return
		}
		update.Date = date
	}

	result, err := h.service.UpdatePayment(c.Request.Context(), update)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// DeletePayment godoc
// @Summary      Delete a transaction
// @Description  Removes the transaction and replays the remaining ledger
// @Tags         payments
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        payment_id path string true "Transaction ID" format(uuid)
// @Success      200 {object} Envelope[appledger.PaymentResult]
// @Failure      404 {object} ErrorEnvelope
// @Router       /invoices/{id}/payments/{payment_id} [delete]
func (h *PaymentHandler) DeletePayment(c *gin.Context) {
	var params dto.PaymentPathParams
	if err := c.ShouldBindUri(&params); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	result, err := h.service.DeletePayment(c.Request.Context(), appledger.DeletePaymentRequest{
		TenantID:  tenantID,
		InvoiceID: uuid.MustParse(params.InvoiceID),
		PaymentID: uuid.MustParse(params.PaymentID),
		UserID:    getUserID(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// RegisterRoutes mounts the payment routes under rg
func (h *PaymentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	payments := rg.Group("/invoices/:id/payments")
	payments.GET("", h.ListPayments)
	payments.POST("", h.RecordPayment)
	payments.PUT("/:payment_id", h.UpdatePayment)
	payments.DELETE("/:payment_id", h.DeletePayment)
}
