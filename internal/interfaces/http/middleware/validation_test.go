package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupValidator(t *testing.T) {
	// Should not panic
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	require.True(t, ok)
	assert.NotNil(t, v)
}

func newBindingRouter(target func() any) *gin.Engine {
	SetupValidator()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.POST("/test", func(c *gin.Context) {
		req := target()
		if err := c.ShouldBindJSON(req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return router
}

func postJSON(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLedgerValidators_RecordPayment(t *testing.T) {
	router := newBindingRouter(func() any { return &dto.RecordPaymentRequest{} })

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantField   string
		wantMessage string
	}{
		{"valid payment", `{"type":"payment","amount":"125.50","method":"cash"}`, http.StatusOK, "", ""},
		{"numeric amount", `{"type":"PAYMENT","amount":10}`, http.StatusOK, "", ""},
		{"negative adjustment passes binding", `{"type":"adjustment","amount":"-5"}`, http.StatusOK, "", ""},
		{"date only", `{"type":"refund","amount":"1","date":"2024-01-31"}`, http.StatusOK, "", ""},
		{"zero amount", `{"type":"payment","amount":"0"}`, http.StatusBadRequest, "amount", "Must be a non-zero amount"},
		{"missing amount", `{"type":"payment"}`, http.StatusBadRequest, "amount", "Must be a non-zero amount"},
		{"unknown type", `{"type":"wire","amount":"1"}`, http.StatusBadRequest, "type", "Must be one of: payment deposit refund credit adjustment"},
		{"missing type", `{"amount":"1"}`, http.StatusBadRequest, "type", "This field is required"},
		{"bad date", `{"type":"payment","amount":"1","date":"31/01/2024"}`, http.StatusBadRequest, "date", "Must be a date (YYYY-MM-DD) or an RFC 3339 timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusOK {
				return
			}

			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
			assert.Equal(t, "Request validation failed", resp.Error.Message)
			assert.NotEmpty(t, resp.Error.RequestID)
			require.Len(t, resp.Error.Details, 1)
			assert.Equal(t, tt.wantField, resp.Error.Details[0].Field)
			assert.Equal(t, tt.wantMessage, resp.Error.Details[0].Message)
		})
	}
}

func TestLedgerValidators_UpdatePayment(t *testing.T) {
	router := newBindingRouter(func() any { return &dto.UpdatePaymentRequest{} })

	assert.Equal(t, http.StatusOK, postJSON(router, `{}`).Code)
	assert.Equal(t, http.StatusOK, postJSON(router, `{"memo":"fixed"}`).Code)
	assert.Equal(t, http.StatusOK, postJSON(router, `{"amount":"12.5","type":"deposit"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(router, `{"amount":"0"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(router, `{"type":"gift"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(router, `{"date":"yesterday"}`).Code)
}

func TestHandleValidationError_MalformedJSON(t *testing.T) {
	router := newBindingRouter(func() any { return &dto.RecordPaymentRequest{} })

	w := postJSON(router, `{"type":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeInvalidJSON, resp.Error.Code)
	assert.Empty(t, resp.Error.Details)
}
