package store

import (
	"context"

	"github.com/google/uuid"

	"turnoplus/backend/internal/domain"
)

// SchedulingTx is the set of reads and writes available inside one scheduling
// transaction. Implementations never commit on their own; the enclosing Store does.
type SchedulingTx interface {
	// LockDoctor serializes writers touching the same doctor's calendar until the
	// transaction ends.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error

	CreateAvailability(ctx context.Context, av domain.Availability) (domain.Availability, error)
	GetAvailability(ctx context.Context, id uuid.UUID) (domain.Availability, error)
	ListAvailabilities(ctx context.Context, doctorID uuid.UUID) ([]domain.Availability, error)
	ListOverlappingAvailabilities(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Availability, error)
	UpdateAvailabilityWindow(ctx context.Context, id uuid.UUID, window domain.TimeWindow) error
	DeleteAvailability(ctx context.Context, id uuid.UUID) error

	GetBlock(ctx context.Context, id uuid.UUID) (domain.Block, error)
	ListBlocks(ctx context.Context, doctorID uuid.UUID) ([]domain.Block, error)
	ListAvailableBlocks(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Block, error)
	InsertBlocks(ctx context.Context, blocks []domain.Block) error
	DeleteBlocks(ctx context.Context, ids []uuid.UUID) error
	// MarkBlockBooked flips an unbooked block to booked. It returns ErrConflict when
	// the block is already booked or no longer exists.
	MarkBlockBooked(ctx context.Context, id uuid.UUID) error
	ReleaseBlock(ctx context.Context, id uuid.UUID) error
	SetBlockBooked(ctx context.Context, id uuid.UUID, booked bool) error

	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status domain.AppointmentStatus) (domain.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error)
	ListAppointmentsForPatient(ctx context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error)
	ListLiveAppointmentsOverlapping(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Appointment, error)
	ListLiveAppointmentsForBlocks(ctx context.Context, blockIDs []uuid.UUID) ([]domain.Appointment, error)

	InsertEvent(ctx context.Context, ev domain.AppointmentEvent) error
}

// Store runs units of work. fn may be invoked again by callers on ErrTransient, so
// it must not keep side effects outside the transaction.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx SchedulingTx) error) error
}
