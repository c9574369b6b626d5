package handler

import "github.com/erp/ledger/internal/interfaces/http/dto"

// Envelope documents dto.Response with a typed data field for swag.
type Envelope[T any] struct {
	Success bool           `json:"success" example:"true"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
}

// ErrorEnvelope documents a failed ledger call, e.g. INVALID_REFUND or LOCK_TIMEOUT.
type ErrorEnvelope struct {
	Success bool          `json:"success" example:"false"`
	Error   dto.ErrorInfo `json:"error"`
}
