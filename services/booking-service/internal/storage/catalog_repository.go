package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/policy"
)

func (r *Repository) GetStaff(ctx context.Context, tenantID, staffID string) (model.Staff, error) {
	var st model.Staff
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, active
		FROM staff
		WHERE id = $1 AND tenant_id = $2
	`, staffID, tenantID).Scan(&st.ID, &st.TenantID, &st.Name, &st.Active)
	if err != nil {
		return model.Staff{}, mapErr("staff", "get staff", err)
	}
	return st, nil
}

func (r *Repository) GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, duration_minutes, buffer_minutes, price_cents, active
		FROM services
		WHERE id = $1 AND tenant_id = $2
	`, serviceID, tenantID).Scan(&svc.ID, &svc.TenantID, &svc.Name, &svc.DurationMinutes,
		&svc.BufferMinutes, &svc.PriceCents, &svc.Active)
	if err != nil {
		return model.Service{}, mapErr("service", "get service", err)
	}
	return svc, nil
}

func (r *Repository) GetVariant(ctx context.Context, serviceID, variantID string) (model.Variant, error) {
	var v model.Variant
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, service_id::text, name, duration_minutes, price_cents
		FROM service_variants
		WHERE id = $1 AND service_id = $2
	`, variantID, serviceID).Scan(&v.ID, &v.ServiceID, &v.Name, &v.DurationMinutes, &v.PriceCents)
	if err != nil {
		return model.Variant{}, mapErr("variant", "get variant", err)
	}
	return v, nil
}

const scheduleColumns = `staff_id::text, weekday, is_working, start_minute, end_minute, break_start, break_end`

func scanSchedule(row interface{ Scan(...any) error }) (model.Schedule, error) {
	var (
		sc      model.Schedule
		weekday int
	)
	if err := row.Scan(&sc.StaffID, &weekday, &sc.IsWorking, &sc.StartMinute, &sc.EndMinute,
		&sc.BreakStart, &sc.BreakEnd); err != nil {
		return model.Schedule{}, err
	}
	sc.Weekday = time.Weekday(weekday)
	return sc, nil
}

func (r *Repository) FindSchedule(ctx context.Context, staffID string, weekday time.Weekday) (model.Schedule, bool, error) {
	sc, err := scanSchedule(r.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM staff_schedules
		WHERE staff_id = $1 AND weekday = $2
	`, staffID, int(weekday)))
	if err != nil {
		if IsNotFound(err) || isInvalidID(err) {
			return model.Schedule{}, false, nil
		}
		return model.Schedule{}, false, mapErr("schedule", "find schedule", err)
	}
	return sc, true, nil
}

func (r *Repository) ListSchedules(ctx context.Context, staffID string) ([]model.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM staff_schedules
		WHERE staff_id = $1
		ORDER BY weekday
	`, staffID)
	if err != nil {
		return nil, mapErr("schedule", "list schedules", err)
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, mapErr("schedule", "list schedules", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("schedule", "list schedules", err)
	}
	return out, nil
}

func (r *Repository) FindBlockedDates(ctx context.Context, tenantID, staffID, from, to string) ([]model.BlockedDate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id::text, COALESCE(staff_id::text, ''), to_char(blocked_on, 'YYYY-MM-DD'), COALESCE(reason, '')
		FROM blocked_dates
		WHERE tenant_id = $1
		  AND (staff_id IS NULL OR staff_id = $2)
		  AND blocked_on BETWEEN $3::date AND $4::date
		ORDER BY blocked_on
	`, tenantID, staffID, from, to)
	if err != nil {
		return nil, mapErr("blocked date", "find blocked dates", err)
	}
	defer rows.Close()

	var out []model.BlockedDate
	for rows.Next() {
		var b model.BlockedDate
		if err := rows.Scan(&b.TenantID, &b.StaffID, &b.Date, &b.Reason); err != nil {
			return nil, mapErr("blocked date", "find blocked dates", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("blocked date", "find blocked dates", err)
	}
	return out, nil
}

// FindOccupiedIntervals returns pending and confirmed rows overlapping
// [from, to). Holds carry their expires_at so callers can ignore expired ones.
func (r *Repository) FindOccupiedIntervals(ctx context.Context, staffID string, from, to time.Time, excludeBookingID string) ([]model.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time, expires_at
		FROM appointments
		WHERE staff_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_time < $3
		  AND end_time > $2
		  AND ($4 = '' OR id::text <> $4)
		ORDER BY start_time
	`, staffID, from, to, excludeBookingID)
	if err != nil {
		return nil, mapErr("staff", "find occupied intervals", err)
	}
	defer rows.Close()

	var out []model.Interval
	for rows.Next() {
		var iv model.Interval
		if err := rows.Scan(&iv.Start, &iv.End, &iv.ExpiresAt); err != nil {
			return nil, mapErr("staff", "find occupied intervals", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("staff", "find occupied intervals", err)
	}
	return out, nil
}

// TenantPolicy loads the tenant's booking settings row, if any.
func (r *Repository) TenantPolicy(ctx context.Context, tenantID string) (policy.Overrides, bool, error) {
	var o policy.Overrides
	err := r.pool.QueryRow(ctx, `
		SELECT timezone, min_advance_minutes, max_advance_days, hold_ttl_minutes
		FROM tenant_booking_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&o.Timezone, &o.MinAdvanceMinutes, &o.MaxAdvanceDays, &o.HoldTTLMinutes)
	if err != nil {
		if IsNotFound(err) || isInvalidID(err) {
			return policy.Overrides{}, false, nil
		}
		return policy.Overrides{}, false, mapErr("tenant", "load tenant policy", err)
	}
	return o, true, nil
}
