// Package common holds the response and binding helpers shared by the HTTP handlers.
package common

import (
	"errors"

	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/amirasaad/coopcredit/pkg/withdrawal"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Response defines the standard API response structure for success cases.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ProblemDetails follows RFC 9457 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
	Errors   any    `json:"errors,omitempty"`
}

// RejectionResponse is the body of a refused withdrawal.
type RejectionResponse struct {
	Status  withdrawal.Outcome `json:"statut"`
	Code    withdrawal.Kind    `json:"code"`
	Message string             `json:"message"`
}

var validate = validator.New()

// ProblemDetailsJSON writes err as RFC 9457 problem details. Optional
// arguments: a string overrides the detail, an int overrides the status,
// which otherwise comes from ErrorToStatusCode.
func ProblemDetailsJSON(c *fiber.Ctx, title string, err error, opts ...any) error {
	status := ErrorToStatusCode(err)
	pd := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Instance: c.OriginalURL(),
	}
	if err != nil {
		pd.Detail = err.Error()
		if kind := withdrawal.KindOf(err); kind != withdrawal.KindInternal {
			pd.Code = string(kind)
		}
	}
	for _, opt := range opts {
		switch v := opt.(type) {
		case string:
			pd.Detail = v
		case int:
			status = v
		case validator.ValidationErrors:
			pd.Errors = validationMessages(v)
		}
	}
	pd.Status = status
	c.Set(fiber.HeaderContentType, "application/problem+json")
	return c.Status(status).JSON(pd)
}

// SuccessResponseJSON writes data with status.
func SuccessResponseJSON(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(Response{
		Status:  status,
		Message: message,
		Data:    data,
	})
}

// RejectionJSON writes a refused decision as 422 {statut, code, message}.
func RejectionJSON(c *fiber.Ctx, r *withdrawal.Rejection) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(RejectionResponse{
		Status:  withdrawal.OutcomeRejected,
		Code:    r.Kind,
		Message: r.Error(),
	})
}

// ErrorToStatusCode maps domain errors to appropriate HTTP status codes.
func ErrorToStatusCode(err error) int {
	switch {
	case err == nil:
		return fiber.StatusInternalServerError
	case errors.Is(err, withdrawal.ErrRejected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, limits.ErrConcurrencyConflict):
		return fiber.StatusConflict
	case errors.Is(err, withdrawal.ErrPersistence):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, policy.ErrConfiguration):
		return fiber.StatusInternalServerError
	case errors.Is(err, withdrawal.ErrAccountNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, withdrawal.ErrInvalidRequest),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, money.ErrAmountExceedsMaxSafeInt),
		errors.Is(err, limits.ErrInvalidDay):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// BindAndValidate parses the request body and validates it using go-playground/validator.
// Returns a pointer to the struct (populated), or writes an error response and returns nil.
func BindAndValidate[T any](c *fiber.Ctx) (*T, error) {
	var input T
	if err := c.BodyParser(&input); err != nil {
		return nil, ProblemDetailsJSON(c, "Invalid request body", err, fiber.StatusBadRequest)
	}
	if err := validate.Struct(input); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return nil, ProblemDetailsJSON(c, "Validation failed", err, "request validation failed", ve, fiber.StatusBadRequest)
		}
		return nil, ProblemDetailsJSON(c, "Validation failed", err, fiber.StatusBadRequest)
	}
	return &input, nil
}

func validationMessages(ve validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
