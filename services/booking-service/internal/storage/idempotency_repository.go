package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

// lockIdempotencyKey claims key for op inside tx. Concurrent requests with the
// same key serialize on the row; a key that already carries a result fails
// with apperr.ErrDuplicateRequest.
func lockIdempotencyKey(ctx context.Context, tx pgx.Tx, tenantID, key, op string, now time.Time) error {
	if key == "" {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key, operation, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key, op, now); err != nil {
		return err
	}

	var resourceID string
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(resource_id, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, tenantID, key).Scan(&resourceID); err != nil {
		return err
	}
	if resourceID != "" {
		return apperr.ErrDuplicateRequest
	}
	return nil
}

func finalizeIdempotencyKey(ctx context.Context, tx pgx.Tx, tenantID, key, resourceID string, result any) error {
	if key == "" {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET resource_id = $3,
			response_payload = $4
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key, resourceID, payload)
	return err
}

// FindIdempotency returns the finished request recorded under key, if any.
func (r *Repository) FindIdempotency(ctx context.Context, tenantID, key string) (model.IdempotencyRecord, bool, error) {
	var (
		rec     model.IdempotencyRecord
		payload string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id::text, idempotency_key, operation, resource_id, response_payload::text, created_at
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2 AND resource_id IS NOT NULL
	`, tenantID, key).Scan(&rec.TenantID, &rec.Key, &rec.Operation, &rec.ResourceID, &payload, &rec.CreatedAt)
	if IsNotFound(err) || isInvalidID(err) {
		return model.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return model.IdempotencyRecord{}, false, mapErr("idempotency key", "find idempotency key", err)
	}
	rec.Payload = []byte(payload)
	return rec, true, nil
}

func pruneIdempotencyKeys(ctx context.Context, tx pgx.Tx, tenantID string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM booking_idempotency_keys
		WHERE created_at < $1
		  AND ($2 = '' OR tenant_id::text = $2)
	`, now.Add(-model.IdempotencyRetention), tenantID)
	return err
}
