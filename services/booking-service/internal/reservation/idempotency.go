package reservation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

func normalizeIdempotencyKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if len(key) > model.MaxIdempotencyKeyLen {
		return "", apperr.Validation("idempotency key must be at most %d characters", model.MaxIdempotencyKeyLen)
	}
	return key, nil
}

// replay returns the result recorded for an earlier request with key. A key
// reused for another operation is a validation error.
func replay[T any](ctx context.Context, m *Manager, tenantID, key, op string) (T, bool, error) {
	var out T
	if key == "" {
		return out, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, ok, err := m.store.FindIdempotency(ctx, tenantID, key)
	if err != nil {
		return out, false, apperr.Store("find idempotency key", err)
	}
	if !ok {
		return out, false, nil
	}
	if rec.Operation != op {
		return out, false, apperr.Validation("idempotency key already used for a %s request", rec.Operation)
	}
	if err := json.Unmarshal(rec.Payload, &out); err != nil {
		return out, false, apperr.Store("decode idempotent result", err)
	}
	m.logger.Info("idempotent replay", "tenant_id", tenantID, "operation", op, "resource_id", rec.ResourceID)
	return out, true, nil
}
