package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/quota"
)

func (r *Repository) UpsertEntitlements(ctx context.Context, ent quota.Entitlements) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_entitlements (tenant_id, tier, max_monthly_bookings)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id)
		DO UPDATE SET tier = EXCLUDED.tier,
		              max_monthly_bookings = EXCLUDED.max_monthly_bookings,
		              updated_at = now()
	`, ent.TenantID, ent.Tier, ent.MaxMonthlyBookings)
	return mapErr("tenant", "upsert entitlements", err)
}

func (r *Repository) GetEntitlements(ctx context.Context, tenantID string) (quota.Entitlements, bool, error) {
	var ent quota.Entitlements
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id::text, tier, max_monthly_bookings, updated_at
		FROM tenant_entitlements
		WHERE tenant_id = $1
	`, tenantID).Scan(&ent.TenantID, &ent.Tier, &ent.MaxMonthlyBookings, &ent.UpdatedAt)
	if err != nil {
		if IsNotFound(err) || isInvalidID(err) {
			return quota.Entitlements{}, false, nil
		}
		return quota.Entitlements{}, false, mapErr("tenant", "get entitlements", err)
	}
	return ent, true, nil
}

func (r *Repository) CountBookingsInRange(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	var cnt int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE tenant_id = $1
		  AND status IN ('confirmed', 'completed', 'no_show')
		  AND start_time >= $2
		  AND start_time < $3
	`, tenantID, from, to).Scan(&cnt)
	if err != nil {
		return 0, mapErr("tenant", "count bookings", err)
	}
	return cnt, nil
}
