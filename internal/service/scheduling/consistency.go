package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/store"
)

type InconsistencyKind string

const (
	// A block flagged booked that no live appointment references.
	BookedWithoutAppointment InconsistencyKind = "booked_block_without_appointment"
	// A live appointment holding a block that is flagged free.
	AppointmentOnFreeBlock InconsistencyKind = "appointment_on_free_block"
	// More than one live appointment on the same block.
	DoubleBooked InconsistencyKind = "double_booked_block"
)

type Inconsistency struct {
	Kind           InconsistencyKind
	BlockID        uuid.UUID
	AppointmentIDs []uuid.UUID
}

// errLedgerCorrupted aborts a transaction whose writes would break the
// block/appointment coupling.
var errLedgerCorrupted = errors.New("block ledger inconsistent")

// guardBlock checks that a block is booked exactly when one live appointment
// references it. A block that no longer exists has nothing to check.
func guardBlock(ctx context.Context, tx store.SchedulingTx, blockID uuid.UUID) error {
	b, err := tx.GetBlock(ctx, blockID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	live, err := tx.ListLiveAppointmentsForBlocks(ctx, []uuid.UUID{blockID})
	if err != nil {
		return err
	}
	if issue, bad := classifyBlock(b, live); bad {
		return fmt.Errorf("%w: block %s: %s", errLedgerCorrupted, blockID, issue.Kind)
	}
	return nil
}

func classifyBlock(b domain.Block, live []domain.Appointment) (Inconsistency, bool) {
	ids := make([]uuid.UUID, 0, len(live))
	for _, a := range live {
		ids = append(ids, a.ID)
	}
	issue := Inconsistency{BlockID: b.ID, AppointmentIDs: ids}
	switch {
	case len(live) > 1:
		issue.Kind = DoubleBooked
	case b.IsBooked && len(live) == 0:
		issue.Kind = BookedWithoutAppointment
	case !b.IsBooked && len(live) == 1:
		issue.Kind = AppointmentOnFreeBlock
	default:
		return Inconsistency{}, false
	}
	return issue, true
}

func auditDoctor(ctx context.Context, tx store.SchedulingTx, doctorID uuid.UUID) ([]Inconsistency, error) {
	blocks, err := tx.ListBlocks(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	appts, err := tx.ListAppointmentsForDoctor(ctx, doctorID, nil)
	if err != nil {
		return nil, err
	}

	liveByBlock := make(map[uuid.UUID][]domain.Appointment)
	for _, a := range appts {
		if src, ok := a.Source().(domain.FromBlock); ok && a.Status.Live() {
			liveByBlock[src.BlockID] = append(liveByBlock[src.BlockID], a)
		}
	}

	var out []Inconsistency
	for _, b := range blocks {
		if issue, bad := classifyBlock(b, liveByBlock[b.ID]); bad {
			out = append(out, issue)
		}
	}
	return out, nil
}

// CheckConsistency reports every block of the doctor whose booked flag disagrees
// with its live appointments.
func (s *Service) CheckConsistency(ctx context.Context, doctorID uuid.UUID) ([]Inconsistency, error) {
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	var out []Inconsistency
	err := s.run(ctx, "check_consistency", "", func(ctx context.Context, tx store.SchedulingTx) error {
		issues, err := auditDoctor(ctx, tx, doctorID)
		out = issues
		return err
	})
	return out, err
}

// RepairConsistency realigns booked flags with live appointments and returns what
// it found. Double bookings need a human decision and are only reported.
func (s *Service) RepairConsistency(ctx context.Context, doctorID uuid.UUID) ([]Inconsistency, error) {
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	var out []Inconsistency
	err := s.run(ctx, "repair_consistency", "", func(ctx context.Context, tx store.SchedulingTx) error {
		if err := tx.LockDoctor(ctx, doctorID); err != nil {
			return err
		}
		issues, err := auditDoctor(ctx, tx, doctorID)
		if err != nil {
			return err
		}
		for _, issue := range issues {
			switch issue.Kind {
			case BookedWithoutAppointment:
				err = tx.SetBlockBooked(ctx, issue.BlockID, false)
			case AppointmentOnFreeBlock:
				err = tx.SetBlockBooked(ctx, issue.BlockID, true)
			}
			if err != nil {
				return err
			}
		}
		out = issues
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, issue := range out {
		s.log.WarnContext(ctx, "block ledger repaired",
			"doctor_id", doctorID, "block_id", issue.BlockID, "kind", issue.Kind)
	}
	return out, nil
}
