package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/salonbook/libs/auth"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
)

// TenantHeader is set by the gateway after it has authenticated the caller.
const TenantHeader = "X-Business-Id"

type tenantKey struct{}

func tenantFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey{}).(string)
	return v
}

// RequireTenant resolves the calling tenant from a HS256 bearer token when
// jwtSecret is set, and from TenantHeader otherwise.
func RequireTenant(next http.Handler, jwtSecret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tenantID string
		if jwtSecret != "" {
			token, ok := auth.BearerToken(r)
			if !ok {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseAndVerifyHS256(token, jwtSecret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			tenantID = claims.TenantID
		} else {
			tenantID = strings.TrimSpace(r.Header.Get(TenantHeader))
		}
		if tenantID == "" {
			http.Error(w, "tenant required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenantID)))
	})
}

// DashboardHandler serves booking management for an authenticated tenant.
type DashboardHandler struct {
	reservations Reservations
	logger       *slog.Logger
}

func NewDashboardHandler(reservations Reservations, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{reservations: reservations, logger: logger}
}

type createBookingRequest struct {
	ServiceID   string `json:"service_id"`
	VariantID   string `json:"variant_id"`
	StaffID     string `json:"staff_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ClientEmail string `json:"client_email"`
	Notes       string `json:"notes"`
}

func (h *DashboardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	b, err := h.reservations.Book(r.Context(), reservation.BookRequest{
		TenantID:  tenantFromContext(r.Context()),
		ServiceID: strings.TrimSpace(req.ServiceID),
		VariantID: strings.TrimSpace(req.VariantID),
		StaffID:   strings.TrimSpace(req.StaffID),
		Date:      strings.TrimSpace(req.Date),
		Time:      strings.TrimSpace(req.Time),
		Client: model.Client{
			Name:  req.ClientName,
			Phone: req.ClientPhone,
			Email: req.ClientEmail,
			Notes: req.Notes,
		},
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bookingResponse{"booking": toBookingResponse(b)})
}

type statusRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (h *DashboardHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if strings.TrimSpace(req.BookingID) == "" {
		writeError(w, r, h.logger, apperr.Validation("booking_id is required"))
		return
	}
	to, ok := model.ParseStatus(req.Status)
	if !ok {
		writeError(w, r, h.logger, apperr.Validation("unknown status %q", req.Status))
		return
	}
	b, err := h.reservations.Transition(r.Context(), tenantFromContext(r.Context()), strings.TrimSpace(req.BookingID), to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bookingResponse{"booking": toBookingResponse(b)})
}

type rescheduleRequest struct {
	BookingID string `json:"booking_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

func (h *DashboardHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	b, err := h.reservations.Reschedule(r.Context(), reservation.RescheduleRequest{
		TenantID:  tenantFromContext(r.Context()),
		BookingID: strings.TrimSpace(req.BookingID),
		Date:      strings.TrimSpace(req.Date),
		Time:      strings.TrimSpace(req.Time),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bookingResponse{"booking": toBookingResponse(b)})
}
