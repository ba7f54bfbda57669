package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// requestError is a malformed or invalid request body.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

// decodeJSON reads a JSON body into dst, rejecting unknown fields, and runs
// struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &requestError{msg: "invalid request body"}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &requestError{msg: fieldMessage(verrs[0])}
		}
		return &requestError{msg: "invalid request body"}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps domain errors to an HTTP status and a client-safe message.
func statusOf(err error) (int, string) {
	var (
		reqErr  *requestError
		valErr  *cart.ValidationError
		gateErr *order.GatewayError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg
	case errors.As(err, &valErr):
		return http.StatusBadRequest, valErr.Error()
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound, cart.ErrLineNotFound.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, order.ErrNotCancellable):
		return http.StatusConflict, order.ErrNotCancellable.Error()
	case errors.Is(err, order.ErrEmptyCart):
		return http.StatusUnprocessableEntity, order.ErrEmptyCart.Error()
	case errors.Is(err, product.ErrNotFound):
		return http.StatusUnprocessableEntity, "unknown product"
	case errors.Is(err, cart.ErrProductUnavailable):
		return http.StatusUnprocessableEntity, cart.ErrProductUnavailable.Error()
	case errors.As(err, &gateErr):
		return http.StatusBadGateway, "checkout unavailable, try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError renders err. Server-side failures are logged and their text is
// never sent to the client.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}
