package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/store"
)

const liveBlockIndex = "appointments_live_block_uq"

type SchedulingRepo struct {
	db *bun.DB
}

func NewSchedulingRepo(db *bun.DB) *SchedulingRepo {
	return &SchedulingRepo{db: db}
}

type schedulingTx struct {
	tx bun.Tx
}

// RunInTx runs fn at the default read committed level. Callers take LockDoctor
// before reading the rows they decide on, so every statement after the lock
// sees the writes of the previous lock holder.
func (r *SchedulingRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, schedulingTx{tx: tx})
	})
	return classify(err)
}

// classify maps Postgres failures onto store sentinels. Errors that are not
// driver errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	case "23505":
		if pgErr.ConstraintName == liveBlockIndex {
			return store.ErrConflict
		}
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	case "23503":
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}
	return err
}

func (r schedulingTx) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", doctorID.String()).Exec(ctx)
	return classify(err)
}

func (r schedulingTx) CreateAvailability(ctx context.Context, av domain.Availability) (domain.Availability, error) {
	m := domain.Availability{
		ID:        av.ID,
		DoctorID:  av.DoctorID,
		StartTime: av.StartTime.UTC(),
		EndTime:   av.EndTime.UTC(),
		CreatedAt: av.CreatedAt,
		UpdatedAt: av.UpdatedAt,
	}
	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Availability{}, classify(err)
	}

	blocks := make([]domain.Block, len(av.Blocks))
	for i, b := range av.Blocks {
		b.AvailabilityID = m.ID
		b.DoctorID = m.DoctorID
		blocks[i] = b
	}
	if err := r.InsertBlocks(ctx, blocks); err != nil {
		return domain.Availability{}, err
	}

	m.Blocks = blocks
	m.SortBlocks()
	return m, nil
}

func (r schedulingTx) GetAvailability(ctx context.Context, id uuid.UUID) (domain.Availability, error) {
	var av domain.Availability
	err := r.tx.NewSelect().
		Model(&av).
		Relation("Blocks", orderByStart).
		Where("availability.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Availability{}, classify(err)
	}
	return av, nil
}

func (r schedulingTx) ListAvailabilities(ctx context.Context, doctorID uuid.UUID) ([]domain.Availability, error) {
	var rows []domain.Availability
	err := r.tx.NewSelect().
		Model(&rows).
		Relation("Blocks", orderByStart).
		Where("availability.doctor_id = ?", doctorID).
		OrderExpr("availability.start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r schedulingTx) ListOverlappingAvailabilities(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Availability, error) {
	var rows []domain.Availability
	err := r.tx.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		Where("start_time < ?", window.End).
		Where("end_time > ?", window.Start).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r schedulingTx) UpdateAvailabilityWindow(ctx context.Context, id uuid.UUID, window domain.TimeWindow) error {
	res, err := r.tx.NewUpdate().
		Model((*domain.Availability)(nil)).
		Set("start_time = ?", window.Start.UTC()).
		Set("end_time = ?", window.End.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return requireAffected(res, err)
}

func (r schedulingTx) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	res, err := r.tx.NewDelete().
		Model((*domain.Availability)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return requireAffected(res, err)
}

func (r schedulingTx) GetBlock(ctx context.Context, id uuid.UUID) (domain.Block, error) {
	var b domain.Block
	err := r.tx.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Block{}, classify(err)
	}
	return b, nil
}

func (r schedulingTx) ListBlocks(ctx context.Context, doctorID uuid.UUID) ([]domain.Block, error) {
	var rows []domain.Block
	err := r.tx.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r schedulingTx) ListAvailableBlocks(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Block, error) {
	var rows []domain.Block
	err := r.tx.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		Where("NOT is_booked").
		Where("start_time < ?", window.End).
		Where("end_time > ?", window.Start).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r schedulingTx) InsertBlocks(ctx context.Context, blocks []domain.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range blocks {
		if blocks[i].ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			blocks[i].ID = id
		}
		blocks[i].StartTime = blocks[i].StartTime.UTC()
		blocks[i].EndTime = blocks[i].EndTime.UTC()
		if blocks[i].CreatedAt.IsZero() {
			blocks[i].CreatedAt = now
		}
		if blocks[i].UpdatedAt.IsZero() {
			blocks[i].UpdatedAt = now
		}
	}
	_, err := r.tx.NewInsert().Model(&blocks).Exec(ctx)
	return classify(err)
}

func (r schedulingTx) DeleteBlocks(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.tx.NewDelete().
		Model((*domain.Block)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	return classify(err)
}

func (r schedulingTx) MarkBlockBooked(ctx context.Context, id uuid.UUID) error {
	res, err := r.tx.NewUpdate().
		Model((*domain.Block)(nil)).
		Set("is_booked = TRUE").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("NOT is_booked").
		Exec(ctx)
	if err := requireAffected(res, err); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (r schedulingTx) ReleaseBlock(ctx context.Context, id uuid.UUID) error {
	return r.SetBlockBooked(ctx, id, false)
}

func (r schedulingTx) SetBlockBooked(ctx context.Context, id uuid.UUID, booked bool) error {
	res, err := r.tx.NewUpdate().
		Model((*domain.Block)(nil)).
		Set("is_booked = ?", booked).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return requireAffected(res, err)
}

func (r schedulingTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := domain.Appointment{
		ID:        appt.ID,
		DoctorID:  appt.DoctorID,
		PatientID: appt.PatientID,
		BlockID:   appt.BlockID,
		Status:    appt.Status,
		Notes:     appt.Notes,
		StartTime: appt.StartTime.UTC(),
		EndTime:   appt.EndTime.UTC(),
		CreatedAt: appt.CreatedAt,
		UpdatedAt: appt.UpdatedAt,
	}
	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Appointment{}, classify(err)
	}
	return m, nil
}

func (r schedulingTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := r.tx.NewSelect().
		Model(&a).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, classify(err)
	}
	return a, nil
}

func (r schedulingTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status domain.AppointmentStatus) (domain.Appointment, error) {
	res, err := r.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err := requireAffected(res, err); err != nil {
		return domain.Appointment{}, err
	}
	return r.GetAppointment(ctx, id)
}

func (r schedulingTx) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	res, err := r.tx.NewDelete().
		Model((*domain.Appointment)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return requireAffected(res, err)
}

func (r schedulingTx) ListAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error) {
	return r.listAppointments(ctx, "doctor_id = ?", doctorID, window)
}

func (r schedulingTx) ListAppointmentsForPatient(ctx context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error) {
	return r.listAppointments(ctx, "patient_id = ?", patientID, window)
}

func (r schedulingTx) listAppointments(ctx context.Context, owner string, id uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := r.tx.NewSelect().
		Model(&rows).
		Where(owner, id)
	if window != nil {
		q = q.Where("start_time < ?", window.End).Where("end_time > ?", window.Start)
	}
	if err := q.OrderExpr("start_time ASC, id ASC").Scan(ctx); err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r schedulingTx) ListLiveAppointmentsOverlapping(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.tx.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		Where("status <> ?", domain.StatusCanceled).
		Where("start_time < ?", window.End).
		Where("end_time > ?", window.Start).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r schedulingTx) ListLiveAppointmentsForBlocks(ctx context.Context, blockIDs []uuid.UUID) ([]domain.Appointment, error) {
	if len(blockIDs) == 0 {
		return nil, nil
	}
	var rows []domain.Appointment
	err := r.tx.NewSelect().
		Model(&rows).
		Where("block_id IN (?)", bun.In(blockIDs)).
		Where("status <> ?", domain.StatusCanceled).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r schedulingTx) InsertEvent(ctx context.Context, ev domain.AppointmentEvent) error {
	_, err := r.tx.NewInsert().Model(&ev).Exec(ctx)
	return classify(err)
}

func orderByStart(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("start_time ASC")
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
