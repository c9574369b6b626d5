package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// SetupValidator configures gin's validator: JSON field names in errors,
// decimal support and the ledger tags.
//
//	decimal_nonzero  amount is not zero (sign rules are per transaction type)
//	payment_type     one of the ledger transaction types, case insensitive
//	ledger_date      RFC 3339 timestamp or YYYY-MM-DD
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	if err := RegisterLedgerValidators(v); err != nil {
		panic(err)
	}
}

// RegisterLedgerValidators installs the ledger tags on v
func RegisterLedgerValidators(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("uri"), ",", 2)[0]
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	return errors.Join(
		v.RegisterValidation("decimal_nonzero", validateDecimalNonZero),
		v.RegisterValidation("payment_type", validatePaymentType),
		v.RegisterValidation("ledger_date", validateLedgerDate),
	)
}

func validateDecimalNonZero(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && !d.IsZero()
}

func validatePaymentType(fl validator.FieldLevel) bool {
	t := ledger.TransactionType(strings.ToLower(strings.TrimSpace(fl.Field().String())))
	return t.IsValid()
}

func validateLedgerDate(fl validator.FieldLevel) bool {
	_, err := dto.ParseDate(fl.Field().String())
	return err == nil
}

// FormatValidationErrors formats validation errors into a standard response
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: getValidationMessage(e),
			})
		}
	}

	return dto.NewValidationErrorResponse(
		"Request validation failed",
		requestID,
		details,
	)
}

// HandleValidationError writes a 400 for a binding failure. Malformed
// JSON is reported without field details.
func HandleValidationError(c *gin.Context, err error) {
	requestID := GetRequestID(c)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeInvalidJSON, "Request body is not valid JSON", requestID))
		return
	}
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, requestID))
}

// getValidationMessage returns a human-readable validation message
func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Must be at most " + e.Param() + " characters"
	case "uuid":
		return "Invalid UUID format"
	case "decimal_nonzero":
		return "Must be a non-zero amount"
	case "payment_type":
		return "Must be one of: payment deposit refund credit adjustment"
	case "ledger_date":
		return "Must be a date (YYYY-MM-DD) or an RFC 3339 timestamp"
	default:
		return "Invalid value"
	}
}
