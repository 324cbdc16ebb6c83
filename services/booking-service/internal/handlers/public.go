package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
)

type Slots interface {
	DaySlots(ctx context.Context, q availability.Query) (availability.DayResult, error)
	UnavailableDates(ctx context.Context, q availability.RangeQuery) ([]string, error)
}

type Reservations interface {
	Reserve(ctx context.Context, r reservation.ReserveRequest) (model.Hold, error)
	Confirm(ctx context.Context, r reservation.ConfirmRequest) (model.Booking, error)
	CancelHold(ctx context.Context, holdID, sessionToken string) error
	CancelByToken(ctx context.Context, token string) (model.Booking, error)
	Transition(ctx context.Context, tenantID, bookingID string, to model.Status) (model.Booking, error)
	Book(ctx context.Context, r reservation.BookRequest) (model.Booking, error)
	Reschedule(ctx context.Context, r reservation.RescheduleRequest) (model.Booking, error)
}

// PublicHandler serves the unauthenticated booking widget API.
type PublicHandler struct {
	slots        Slots
	reservations Reservations
	logger       *slog.Logger
}

func NewPublicHandler(slots Slots, reservations Reservations, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{slots: slots, reservations: reservations, logger: logger}
}

func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	res, err := h.slots.DaySlots(r.Context(), availability.Query{
		TenantID:         strings.TrimSpace(q.Get("tenant_id")),
		ServiceID:        strings.TrimSpace(q.Get("service_id")),
		VariantID:        strings.TrimSpace(q.Get("variant_id")),
		StaffID:          strings.TrimSpace(q.Get("staff_id")),
		Date:             strings.TrimSpace(q.Get("date")),
		ExcludeBookingID: strings.TrimSpace(q.Get("exclude_booking_id")),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *PublicHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	dates, err := h.slots.UnavailableDates(r.Context(), availability.RangeQuery{
		TenantID:  strings.TrimSpace(q.Get("tenant_id")),
		ServiceID: strings.TrimSpace(q.Get("service_id")),
		VariantID: strings.TrimSpace(q.Get("variant_id")),
		StaffID:   strings.TrimSpace(q.Get("staff_id")),
		From:      strings.TrimSpace(q.Get("from")),
		To:        strings.TrimSpace(q.Get("to")),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"unavailable": dates})
}

type reserveSlotRequest struct {
	TenantID     string `json:"tenant_id"`
	ServiceID    string `json:"service_id"`
	VariantID    string `json:"variant_id"`
	StaffID      string `json:"staff_id"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	SessionToken string `json:"session_token"`
}

type reservationResponse struct {
	ID           string `json:"id"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	ExpiresAt    string `json:"expires_at"`
	SessionToken string `json:"session_token"`
}

func (h *PublicHandler) ReserveSlot(w http.ResponseWriter, r *http.Request) {
	var req reserveSlotRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	hold, err := h.reservations.Reserve(r.Context(), reservation.ReserveRequest{
		TenantID:     strings.TrimSpace(req.TenantID),
		ServiceID:    strings.TrimSpace(req.ServiceID),
		VariantID:    strings.TrimSpace(req.VariantID),
		StaffID:      strings.TrimSpace(req.StaffID),
		Date:         strings.TrimSpace(req.Date),
		Time:         strings.TrimSpace(req.Time),
		SessionToken: req.SessionToken,

		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]reservationResponse{
		"reservation": {
			ID:           hold.ID,
			StartTime:    hold.StartTime.UTC().Format(time.RFC3339),
			EndTime:      hold.EndTime.UTC().Format(time.RFC3339),
			ExpiresAt:    hold.ExpiresAt.UTC().Format(time.RFC3339),
			SessionToken: hold.SessionToken,
		},
	})
}

type completeBookingRequest struct {
	ReservationID string `json:"reservation_id"`
	ClientName    string `json:"client_name"`
	ClientPhone   string `json:"client_phone"`
	ClientEmail   string `json:"client_email"`
	Notes         string `json:"notes"`
}

func (h *PublicHandler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	var req completeBookingRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	b, err := h.reservations.Confirm(r.Context(), reservation.ConfirmRequest{
		HoldID: strings.TrimSpace(req.ReservationID),
		Client: model.Client{
			Name:  req.ClientName,
			Phone: req.ClientPhone,
			Email: req.ClientEmail,
			Notes: req.Notes,
		},
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bookingResponse{"booking": toBookingResponse(b)})
}

type cancelHoldRequest struct {
	HoldID       string `json:"hold_id"`
	SessionToken string `json:"session_token"`
}

// CancelHold always answers 200 so the widget can fire it on page unload
// without caring whether the hold still exists. A body that does not decode
// releases nothing.
func (h *PublicHandler) CancelHold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("cancel hold body ignored", "err", err)
		req = cancelHoldRequest{}
	}
	if err := h.reservations.CancelHold(r.Context(), req.HoldID, req.SessionToken); err != nil {
		h.logger.Warn("cancel hold failed", "hold_id", req.HoldID, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type cancelBookingRequest struct {
	Token string `json:"token"`
}

func (h *PublicHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req cancelBookingRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	b, err := h.reservations.CancelByToken(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bookingResponse{"booking": toBookingResponse(b)})
}
