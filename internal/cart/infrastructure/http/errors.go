package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmehra2102/cart-service/internal/cart/application"
	"github.com/dmehra2102/cart-service/internal/cart/domain"
)

func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, application.ErrCorruptCart):
		return http.StatusInternalServerError, "CORRUPT_CART"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, application.ErrLostUpdate):
		return http.StatusConflict, "LOST_UPDATE"
	case errors.Is(err, application.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
