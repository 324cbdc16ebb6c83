package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want apperr.Code
	}{
		{"exclusion violation", &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"}, apperr.CodeSlotTaken},
		{"unique violation", &pgconn.PgError{Code: "23505"}, apperr.CodeSlotTaken},
		{"wrapped exclusion", fmt.Errorf("insert hold: %w", &pgconn.PgError{Code: "23P01"}), apperr.CodeSlotTaken},
		{"malformed uuid", &pgconn.PgError{Code: "22P02"}, apperr.CodeNotFound},
		{"no rows", pgx.ErrNoRows, apperr.CodeNotFound},
		{"engine error", apperr.ErrExpired, apperr.CodeExpired},
		{"duplicate request", apperr.ErrDuplicateRequest, apperr.CodeDuplicateRequest},
		{"other pg error", &pgconn.PgError{Code: "40001"}, apperr.CodeStore},
		{"connection error", errors.New("connection reset by peer"), apperr.CodeStore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapErr("reservation", "insert hold", tc.err)
			assert.Equal(t, tc.want, apperr.CodeOf(got), "got %v", got)
		})
	}
	assert.NoError(t, mapErr("reservation", "insert hold", nil))
}

func TestMapErrKeepsEngineErrors(t *testing.T) {
	assert.Same(t, apperr.ErrExpired, mapErr("reservation", "confirm hold", apperr.ErrExpired))

	err := mapErr("reservation", "confirm hold", errors.New("tx aborted"))
	assert.True(t, errors.Is(err, apperr.ErrStore), "got %v", err)
	assert.Contains(t, err.Error(), "confirm hold")
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsConflict(&pgconn.PgError{Code: "23P01"}))
	assert.True(t, IsConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsConflict(&pgconn.PgError{Code: "22P02"}))
	assert.False(t, IsConflict(errors.New("23P01")))

	assert.True(t, isInvalidID(fmt.Errorf("get hold: %w", &pgconn.PgError{Code: "22P02"})))
	assert.False(t, isInvalidID(pgx.ErrNoRows))

	assert.True(t, IsNotFound(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
	assert.False(t, IsNotFound(&pgconn.PgError{Code: "23505"}))
}
