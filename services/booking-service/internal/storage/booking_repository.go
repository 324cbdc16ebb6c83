package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
)

const bookingColumns = `id::text, tenant_id::text, service_id::text, COALESCE(variant_id::text, ''), staff_id::text,
	client_name, client_phone, COALESCE(client_email, ''), COALESCE(notes, ''),
	start_time, end_time, price_cents, status, expires_at, COALESCE(cancel_token, ''),
	cancelled_at, COALESCE(cancelled_by, ''), created_at, COALESCE(session_token, '')`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var (
		b      model.Booking
		status string
	)
	err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.ServiceID,
		&b.VariantID,
		&b.StaffID,
		&b.ClientName,
		&b.ClientPhone,
		&b.ClientEmail,
		&b.Notes,
		&b.StartTime,
		&b.EndTime,
		&b.PriceCents,
		&status,
		&b.ExpiresAt,
		&b.CancelToken,
		&b.CancelledAt,
		&b.CancelledBy,
		&b.CreatedAt,
		&b.SessionToken,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.Status(status)
	return b, nil
}

// reclaimExpired cancels expired holds overlapping [start, end) on staffID so
// that they stop blocking the exclusion constraint.
func reclaimExpired(ctx context.Context, tx pgx.Tx, staffID string, start, end, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = $4, cancelled_by = 'expiry'
		WHERE staff_id = $1
		  AND status = 'pending'
		  AND client_name = 'RESERVED'
		  AND expires_at < $4
		  AND start_time < $3
		  AND end_time > $2
	`, staffID, start, end, now)
	return err
}

func (r *Repository) InsertHold(ctx context.Context, h model.Hold, now time.Time, evt outbox.Event) error {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := lockIdempotencyKey(ctx, tx, h.TenantID, h.IdempotencyKey, model.OperationReserve, now); err != nil {
			return err
		}
		if err := reclaimExpired(ctx, tx, h.StaffID, h.StartTime, h.EndTime, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointments
				(id, tenant_id, service_id, variant_id, staff_id, client_name, client_phone,
				 start_time, end_time, price_cents, status, expires_at, session_token, created_at)
			VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, 'RESERVED', '', $6, $7, $8, 'pending', $9, $10, $11)
		`, h.ID, h.TenantID, h.ServiceID, h.VariantID, h.StaffID, h.StartTime, h.EndTime,
			h.PriceCents, h.ExpiresAt, h.SessionToken, h.CreatedAt); err != nil {
			return err
		}
		if err := finalizeIdempotencyKey(ctx, tx, h.TenantID, h.IdempotencyKey, h.ID, h); err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	return mapErr("staff", "insert hold", err)
}

func (r *Repository) GetHold(ctx context.Context, holdID string) (model.Hold, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM appointments
		WHERE id = $1 AND client_name = 'RESERVED' AND expires_at IS NOT NULL
		  AND (status = 'pending' OR (status = 'cancelled' AND cancelled_by = 'expiry'))
	`, holdID))
	if err != nil {
		return model.Hold{}, mapErr("reservation", "get hold", err)
	}
	return model.Hold{
		ID:           b.ID,
		TenantID:     b.TenantID,
		StaffID:      b.StaffID,
		ServiceID:    b.ServiceID,
		VariantID:    b.VariantID,
		StartTime:    b.StartTime,
		EndTime:      b.EndTime,
		ExpiresAt:    *b.ExpiresAt,
		SessionToken: b.SessionToken,
		PriceCents:   b.PriceCents,
		CreatedAt:    b.CreatedAt,
		Reclaimed:    b.IsReclaimedHold(),
	}, nil
}

// ConfirmHold promotes the hold in a single conditional update. When the
// update misses because the hold has expired, the hold is reclaimed in the
// same transaction and apperr.ErrExpired returned. A hold already reclaimed
// by a sweep also yields apperr.ErrExpired.
func (r *Repository) ConfirmHold(ctx context.Context, c model.HoldConfirmation, evt outbox.Event) (model.Booking, error) {
	var (
		b       model.Booking
		expired bool
	)
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = scanBooking(tx.QueryRow(ctx, `
			UPDATE appointments
			SET client_name = $3, client_phone = $4, client_email = NULLIF($5, ''), notes = NULLIF($6, ''),
			    status = 'confirmed', expires_at = NULL, session_token = NULL, cancel_token = $7
			WHERE id = $1 AND tenant_id = $2
			  AND status = 'pending' AND client_name = 'RESERVED'
			  AND expires_at >= $8
			RETURNING `+bookingColumns,
			c.HoldID, c.TenantID, c.Client.Name, c.Client.Phone, c.Client.Email, c.Client.Notes, c.CancelToken, c.Now))
		if err == nil {
			return r.outbox.Insert(ctx, tx, evt)
		}
		if !IsNotFound(err) {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = 'cancelled', cancelled_at = $3, cancelled_by = 'expiry'
			WHERE id = $1 AND tenant_id = $2
			  AND status = 'pending' AND client_name = 'RESERVED'
			  AND expires_at < $3
		`, c.HoldID, c.TenantID, c.Now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// A sweep may have reclaimed the hold since it was read.
			var reclaimed bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM appointments
					WHERE id = $1 AND tenant_id = $2
					  AND status = 'cancelled' AND client_name = 'RESERVED' AND cancelled_by = 'expiry'
				)
			`, c.HoldID, c.TenantID).Scan(&reclaimed); err != nil {
				return err
			}
			if !reclaimed {
				return apperr.NotFound("reservation")
			}
		}
		expired = true
		return nil
	})
	if err != nil {
		return model.Booking{}, mapErr("reservation", "confirm hold", err)
	}
	if expired {
		return model.Booking{}, apperr.ErrExpired
	}
	return b, nil
}

// DeleteHold removes a hold only if sessionToken matches.
func (r *Repository) DeleteHold(ctx context.Context, holdID, sessionToken string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1 AND session_token = $2 AND status = 'pending' AND client_name = 'RESERVED'
	`, holdID, sessionToken)
	if err != nil {
		if isInvalidID(err) {
			return false, nil
		}
		return false, mapErr("reservation", "delete hold", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) InsertBooking(ctx context.Context, b model.Booking, now time.Time, evt outbox.Event) error {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := lockIdempotencyKey(ctx, tx, b.TenantID, b.IdempotencyKey, model.OperationBook, now); err != nil {
			return err
		}
		if err := reclaimExpired(ctx, tx, b.StaffID, b.StartTime, b.EndTime, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointments
				(id, tenant_id, service_id, variant_id, staff_id, client_name, client_phone, client_email, notes,
				 start_time, end_time, price_cents, status, cancel_token, created_at)
			VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12, $13, $14, $15)
		`, b.ID, b.TenantID, b.ServiceID, b.VariantID, b.StaffID, b.ClientName, b.ClientPhone, b.ClientEmail, b.Notes,
			b.StartTime, b.EndTime, b.PriceCents, string(b.Status), b.CancelToken, b.CreatedAt); err != nil {
			return err
		}
		if err := finalizeIdempotencyKey(ctx, tx, b.TenantID, b.IdempotencyKey, b.ID, b); err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	return mapErr("staff", "insert booking", err)
}

func (r *Repository) GetBooking(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
	`, bookingID, tenantID))
	if err != nil {
		return model.Booking{}, mapErr("booking", "get booking", err)
	}
	return b, nil
}

func (r *Repository) FindBookingByCancelToken(ctx context.Context, token string) (model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM appointments
		WHERE cancel_token = $1
	`, token))
	if err != nil {
		return model.Booking{}, mapErr("booking", "find booking by token", err)
	}
	return b, nil
}

// UpdateStatus applies c only while the stored status is still c.From.
func (r *Repository) UpdateStatus(ctx context.Context, c model.StatusChange, evt outbox.Event) (model.Booking, error) {
	var b model.Booking
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = scanBooking(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $4,
			    cancelled_at = CASE WHEN $4 = 'cancelled' THEN $6 ELSE cancelled_at END,
			    cancelled_by = CASE WHEN $4 = 'cancelled' THEN NULLIF($5, '') ELSE cancelled_by END
			WHERE id = $1 AND tenant_id = $2 AND status = $3
			RETURNING `+bookingColumns,
			c.BookingID, c.TenantID, string(c.From), string(c.To), c.CancelledBy, c.At))
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	if err == nil {
		return b, nil
	}
	if !IsNotFound(err) {
		return model.Booking{}, mapErr("booking", "update status", err)
	}

	current, getErr := r.GetBooking(ctx, c.TenantID, c.BookingID)
	if getErr != nil {
		return model.Booking{}, getErr
	}
	return model.Booking{}, apperr.InvalidTransition(string(current.Status), string(c.To),
		model.StatusStrings(model.AllowedTransitions(current.Status)))
}

func (r *Repository) MoveBooking(ctx context.Context, m model.BookingMove, evt outbox.Event) (model.Booking, error) {
	var b model.Booking
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = scanBooking(tx.QueryRow(ctx, `
			SELECT `+bookingColumns+`
			FROM appointments
			WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'confirmed')
			FOR UPDATE
		`, m.BookingID, m.TenantID))
		if err != nil {
			return err
		}
		if err := reclaimExpired(ctx, tx, b.StaffID, m.Start, m.End, m.Now); err != nil {
			return err
		}
		b, err = scanBooking(tx.QueryRow(ctx, `
			UPDATE appointments
			SET start_time = $3, end_time = $4
			WHERE id = $1 AND tenant_id = $2
			RETURNING `+bookingColumns,
			m.BookingID, m.TenantID, m.Start, m.End))
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	if err != nil {
		return model.Booking{}, mapErr("booking", "move booking", err)
	}
	return b, nil
}

// ReapExpired cancels expired holds, keeping the rows for audit, and records
// one reaped event per affected tenant.
func (r *Repository) ReapExpired(ctx context.Context, tenantID string, now time.Time) (model.ReapResult, error) {
	var res model.ReapResult
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE appointments
			SET status = 'cancelled', cancelled_at = $1, cancelled_by = 'expiry'
			WHERE status = 'pending'
			  AND client_name = 'RESERVED'
			  AND expires_at < $1
			  AND ($2 = '' OR tenant_id::text = $2)
			RETURNING tenant_id::text
		`, now, tenantID)
		if err != nil {
			return err
		}
		perTenant := map[string]int{}
		for rows.Next() {
			var tenant string
			if err := rows.Scan(&tenant); err != nil {
				rows.Close()
				return err
			}
			perTenant[tenant]++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for tenant, n := range perTenant {
			evt, err := outbox.NewEvent(outbox.TypeHoldsReaped, outbox.AggregateTenant, tenant, tenant, map[string]any{
				"tenant_id": tenant,
				"count":     n,
				"reaped_at": now.UTC(),
			})
			if err != nil {
				return err
			}
			if err := r.outbox.Insert(ctx, tx, evt); err != nil {
				return err
			}
			res.BookingsCancelled += n
		}
		return pruneIdempotencyKeys(ctx, tx, tenantID, now)
	})
	if err != nil {
		return model.ReapResult{}, mapErr("tenant", "reap expired holds", err)
	}
	return res, nil
}
