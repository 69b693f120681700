package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/store"
)

func newMockDB(t *testing.T) (*bun.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqlDB, pgdialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, mock
}

func newMockTx(t *testing.T) (schedulingTx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	return schedulingTx{tx: tx}, mock
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, store.ErrTransient},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, store.ErrTransient},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, store.ErrTransient},
		{"live block index", &pgconn.PgError{Code: "23505", ConstraintName: liveBlockIndex}, store.ErrConflict},
		{"other unique", &pgconn.PgError{Code: "23505", ConstraintName: "appointments_pkey"}, store.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, store.ErrNotFound},
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"wrapped", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), store.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	assert.NoError(t, classify(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, classify(plain))

	transient := classify(&pgconn.PgError{Code: "40001"})
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(transient, &pgErr), "transient error keeps the driver cause")
}

func TestSchedulingTx_LockDoctorUsesAdvisoryLock(t *testing.T) {
	tx, mock := newMockTx(t)
	doctorID := uuid.MustParse("00000000-0000-0000-0000-0000000000d1")

	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\('` + doctorID.String() + `'\)\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tx.LockDoctor(context.Background(), doctorID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingTx_MarkBlockBookedIsConditional(t *testing.T) {
	blockID := uuid.MustParse("00000000-0000-0000-0000-0000000000b1")

	t.Run("flips unbooked block", func(t *testing.T) {
		tx, mock := newMockTx(t)
		mock.ExpectExec(`UPDATE "appointment_blocks" .* WHERE \(id = '` + blockID.String() + `'\) AND \(NOT is_booked\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, tx.MarkBlockBooked(context.Background(), blockID))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already booked is a conflict", func(t *testing.T) {
		tx, mock := newMockTx(t)
		mock.ExpectExec(`UPDATE "appointment_blocks"`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := tx.MarkBlockBooked(context.Background(), blockID)
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("serialization failure is transient", func(t *testing.T) {
		tx, mock := newMockTx(t)
		mock.ExpectExec(`UPDATE "appointment_blocks"`).
			WillReturnError(&pgconn.PgError{Code: "40001"})

		err := tx.MarkBlockBooked(context.Background(), blockID)
		assert.ErrorIs(t, err, store.ErrTransient)
	})
}

func TestSchedulingTx_DeleteAvailabilityMissing(t *testing.T) {
	tx, mock := newMockTx(t)
	mock.ExpectExec(`DELETE FROM "availabilities"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := tx.DeleteAvailability(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSchedulingTx_GetAppointmentNotFound(t *testing.T) {
	tx, mock := newMockTx(t)
	mock.ExpectQuery(`SELECT .* FROM "appointments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := tx.GetAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSchedulingTx_EmptyBatchesSkipQueries(t *testing.T) {
	tx, mock := newMockTx(t)
	ctx := context.Background()

	require.NoError(t, tx.InsertBlocks(ctx, nil))
	require.NoError(t, tx.DeleteBlocks(ctx, nil))
	appts, err := tx.ListLiveAppointmentsForBlocks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, appts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingTx_ListAvailableBlocksFiltersFreeIntersecting(t *testing.T) {
	tx, mock := newMockTx(t)
	doctorID := uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	start := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "availability_id", "doctor_id", "start_time", "end_time", "is_booked", "created_at", "updated_at"}).
		AddRow(uuid.New().String(), uuid.New().String(), doctorID.String(), start, start.Add(time.Hour), false, start, start)
	mock.ExpectQuery(`FROM "appointment_blocks" AS "block" WHERE \(doctor_id = .*\) AND \(NOT is_booked\) AND \(start_time < .*\) AND \(end_time > .*\) ORDER BY start_time ASC`).
		WillReturnRows(rows)

	out, err := tx.ListAvailableBlocks(context.Background(), doctorID, domain.TimeWindow{Start: start, End: start.Add(4 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, doctorID, out[0].DoctorID)
	assert.False(t, out[0].IsBooked)
}
