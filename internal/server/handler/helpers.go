package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps an error returned by the auction service onto an
// HTTP status. Unexpected errors are logged and reported as "failed to <op>".
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var bidErr *domain.BidError
	switch {
	case errors.As(err, &bidErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       "bid too low",
			"minimum_bid": bidErr.MinimumBid,
		})
	case errors.Is(err, domain.ErrAuctionNotFound):
		writeError(w, http.StatusNotFound, "auction not found")
	case errors.Is(err, domain.ErrCountdownNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, domain.ErrAuctionInactive):
		writeError(w, http.StatusUnprocessableEntity, "auction is not active")
	case errors.Is(err, domain.ErrAuctionExpired):
		writeError(w, http.StatusUnprocessableEntity, "auction has expired")
	case errors.Is(err, domain.ErrBidTooLow):
		writeError(w, http.StatusUnprocessableEntity, "bid too low")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrTransientStore):
		logger.WarnContext(r.Context(), "handler: "+op+" unavailable",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseLimit reads the "limit" query parameter. Zero means the service
// default; malformed values are rejected.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation)
	}
	return n, nil
}

// parseBool reads an optional boolean query parameter.
func parseBool(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be true or false", domain.ErrValidation, name)
	}
	return &b, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
