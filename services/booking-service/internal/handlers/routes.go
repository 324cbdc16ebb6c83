package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reaper"
)

type Sweeper interface {
	SweepAll(ctx context.Context, trigger string) (model.ReapResult, error)
}

type Deps struct {
	Slots        Slots
	Reservations Reservations
	Sweeper      Sweeper
	Logger       *slog.Logger
	JWTSecret    string
	// ReapToken, when set, must be sent as a bearer token to /internal/reap.
	ReapToken string
}

func Register(mux *http.ServeMux, d Deps) {
	public := NewPublicHandler(d.Slots, d.Reservations, d.Logger)
	mux.HandleFunc("/api/v1/public/slots", public.Slots)
	mux.HandleFunc("/api/v1/public/availability", public.Availability)
	mux.HandleFunc("/api/v1/public/reserve-slot", public.ReserveSlot)
	mux.HandleFunc("/api/v1/public/complete-booking", public.CompleteBooking)
	mux.HandleFunc("/api/v1/public/cancel-hold", public.CancelHold)
	mux.HandleFunc("/api/v1/public/cancel-booking", public.CancelBooking)

	dashboard := NewDashboardHandler(d.Reservations, d.Logger)
	mux.Handle("/api/v1/bookings", RequireTenant(http.HandlerFunc(dashboard.Create), d.JWTSecret))
	mux.Handle("/api/v1/bookings/status", RequireTenant(http.HandlerFunc(dashboard.Status), d.JWTSecret))
	mux.Handle("/api/v1/bookings/reschedule", RequireTenant(http.HandlerFunc(dashboard.Reschedule), d.JWTSecret))

	if d.Sweeper != nil {
		mux.Handle("/internal/reap", NewReapHandler(d.Sweeper, d.ReapToken, d.Logger))
	}
}

// ReapHandler lets an external scheduler trigger a sweep of every tenant.
type ReapHandler struct {
	sweeper Sweeper
	token   string
	logger  *slog.Logger
}

func NewReapHandler(sweeper Sweeper, token string, logger *slog.Logger) *ReapHandler {
	return &ReapHandler{sweeper: sweeper, token: token, logger: logger}
}

func (h *ReapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	res, err := h.sweeper.SweepAll(r.Context(), reaper.TriggerManual)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"holds_deleted":      res.HoldsDeleted,
		"bookings_cancelled": res.BookingsCancelled,
		"reaped":             res.Total(),
	})
}
