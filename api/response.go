package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"xdao.co/drinkpoap/claim"
	"xdao.co/drinkpoap/model"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TxRef   string `json:"tx_ref,omitempty"`
}

type errorEnvelope struct {
	RequestID string    `json:"request_id"`
	Error     errorBody `json:"error"`
	Result    any       `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorEnvelope{
		RequestID: requestIDFromContext(r.Context()),
		Error:     errorBody{Code: code, Message: message},
	})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindTokenInvalid, model.KindTokenExpired, model.KindPurposeMismatch, model.KindUnauthenticated:
		return http.StatusUnauthorized
	case model.KindNotAuthorized:
		return http.StatusForbidden
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case model.KindPublishFailed, model.KindLedger:
		return http.StatusBadGateway
	case model.KindIndeterminate:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeMappedError writes the envelope for err. result, when non-nil, is
// attached so partial outcomes are not lost.
func writeMappedError(w http.ResponseWriter, r *http.Request, operation string, err error, result any) {
	ctx := r.Context()
	kind := model.KindOf(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = model.KindIndeterminate
	}
	status := statusFor(kind)
	msg := err.Error()
	if status >= 500 && kind != model.KindIndeterminate {
		// Internal causes are logged, not echoed.
		msg = http.StatusText(status)
	}
	env := errorEnvelope{
		RequestID: requestIDFromContext(ctx),
		Error:     errorBody{Code: kind.Code(), Message: msg},
		Result:    result,
	}
	var ind *claim.IndeterminateError
	if errors.As(err, &ind) {
		env.Error.TxRef = ind.TxRef
	}

	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", status,
		"error_code", env.Error.Code,
		"request_id", env.RequestID,
		"error", err.Error(),
	}
	if status >= 500 {
		httpLogger().ErrorContext(ctx, "http operation failed", fields...)
	} else {
		httpLogger().WarnContext(ctx, "http operation failed", fields...)
	}
	writeJSON(w, status, env)
}

const maxBodyBytes = 1 << 20

// decodeBody decodes a single JSON value. An empty body leaves dst unchanged.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.WrapError(model.KindInvalidInput, "invalid request body", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return model.NewError(model.KindInvalidInput, "request body must contain a single JSON value")
	}
	return nil
}
