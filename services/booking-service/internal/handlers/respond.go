package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

type errorBody struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Allowed []string `json:"allowed,omitempty"`
}

// IdempotencyKeyHeader lets clients retry create requests safely. A repeated
// key returns the original result instead of creating a second hold or
// booking.
const IdempotencyKeyHeader = "Idempotency-Key"

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation, apperr.CodeFormat:
		return http.StatusBadRequest
	case apperr.CodeOutsideAvailability, apperr.CodeInvalidDuration, apperr.CodeTooFarAhead, apperr.CodeRangeTooLarge:
		return http.StatusUnprocessableEntity
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeSlotTaken, apperr.CodeInvalidTransition, apperr.CodeAlreadyCancelled, apperr.CodePastBooking,
		apperr.CodeDuplicateRequest:
		return http.StatusConflict
	case apperr.CodeExpired:
		return http.StatusGone
	case apperr.CodeQuotaExceeded:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {error, code, allowed?}. Store failures are
// logged and reported without their cause.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	body := errorBody{Code: string(apperr.CodeStore), Error: "internal error"}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Code != apperr.CodeStore {
		body = errorBody{Code: string(appErr.Code), Error: appErr.Error(), Allowed: appErr.Allowed}
	}
	status := statusFor(apperr.Code(body.Code))
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"err", err,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, logger, apperr.Validation("invalid json body"))
		return false
	}
	return true
}

type bookingResponse struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	StaffID     string `json:"staff_id"`
	ServiceID   string `json:"service_id"`
	VariantID   string `json:"variant_id,omitempty"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ClientEmail string `json:"client_email,omitempty"`
	Notes       string `json:"notes,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	PriceCents  int64  `json:"price_cents"`
	Status      string `json:"status"`
	CancelToken string `json:"cancel_token,omitempty"`
	CancelledAt string `json:"cancelled_at,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

func toBookingResponse(b model.Booking) bookingResponse {
	resp := bookingResponse{
		ID:          b.ID,
		TenantID:    b.TenantID,
		StaffID:     b.StaffID,
		ServiceID:   b.ServiceID,
		VariantID:   b.VariantID,
		ClientName:  b.ClientName,
		ClientPhone: b.ClientPhone,
		ClientEmail: b.ClientEmail,
		Notes:       b.Notes,
		StartTime:   b.StartTime.UTC().Format(time.RFC3339),
		EndTime:     b.EndTime.UTC().Format(time.RFC3339),
		PriceCents:  b.PriceCents,
		Status:      string(b.Status),
		CancelToken: b.CancelToken,
		CancelledBy: b.CancelledBy,
	}
	if b.CancelledAt != nil {
		resp.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}
