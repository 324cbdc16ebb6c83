package memstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

func idempotencyID(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// checkIdempotency fails with apperr.ErrDuplicateRequest when key already
// carries a result. Callers hold s.mu.
func (s *Store) checkIdempotency(tenantID, key string) error {
	if key == "" {
		return nil
	}
	if _, ok := s.idempotency[idempotencyID(tenantID, key)]; ok {
		return apperr.ErrDuplicateRequest
	}
	return nil
}

// idempotencyRecord encodes result for key. It returns nil for an empty key.
func idempotencyRecord(tenantID, key, op, resourceID string, result any, now time.Time) (*model.IdempotencyRecord, error) {
	if key == "" {
		return nil, nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &model.IdempotencyRecord{
		TenantID:   tenantID,
		Key:        key,
		Operation:  op,
		ResourceID: resourceID,
		Payload:    payload,
		CreatedAt:  now.UTC(),
	}, nil
}

func (s *Store) putIdempotency(rec *model.IdempotencyRecord) {
	if rec != nil {
		s.idempotency[idempotencyID(rec.TenantID, rec.Key)] = *rec
	}
}

func (s *Store) FindIdempotency(_ context.Context, tenantID, key string) (model.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.IdempotencyRecord{}, false, err
	}
	rec, ok := s.idempotency[idempotencyID(tenantID, key)]
	return rec, ok, nil
}

// pruneIdempotency forgets keys older than the retention window. Callers
// hold s.mu.
func (s *Store) pruneIdempotency(tenantID string, now time.Time) {
	cutoff := now.Add(-model.IdempotencyRetention)
	for id, rec := range s.idempotency {
		if (tenantID == "" || rec.TenantID == tenantID) && rec.CreatedAt.Before(cutoff) {
			delete(s.idempotency, id)
		}
	}
}
