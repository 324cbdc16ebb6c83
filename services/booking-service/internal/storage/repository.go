// Package storage is the Postgres adapter of the booking engine. Holds are
// pending appointment rows with client_name RESERVED and an expires_at; the
// appointments_no_overlap exclusion constraint arbitrates every write that
// claims staff time.
package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
)

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool, outbox: outbox.NewRepository()}
}

// IsConflict reports an exclusion or unique violation.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isInvalidID reports a malformed uuid parameter, which can only refer to a
// row that does not exist.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

// mapErr translates driver errors into the engine's error kinds.
func mapErr(what, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsConflict(err):
		return apperr.ErrSlotTaken
	case IsNotFound(err), isInvalidID(err):
		return apperr.NotFound(what)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Store(op, fmt.Errorf("%s: %w", op, err))
}
