package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/lock"
	"turnoplus/backend/internal/store"
)

type BookInput struct {
	DoctorID       uuid.UUID
	PatientID      uuid.UUID
	Start          time.Time
	End            time.Time
	Notes          string
	IdempotencyKey string
}

const maxIdempotencyKeyLen = 256

// IdempotentAppointmentID derives the appointment id used for a patient's
// idempotency key.
func IdempotentAppointmentID(patientID uuid.UUID, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("turnoplus:book:"+patientID.String()+":"+key))
}

// Book reserves the unbooked block matching the requested window, or failing that
// the first unbooked block that contains it, and creates a pending appointment on it.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	window, err := newWindow(in.Start, in.End)
	if err != nil {
		return domain.Appointment{}, err
	}
	if earliest := s.now().Add(s.minLeadTime); window.Start.Before(earliest) {
		return domain.Appointment{}, validationError(fmt.Sprintf("appointments must start at least %s from now", s.minLeadTime))
	}

	var apptID uuid.UUID
	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		if len(key) > maxIdempotencyKeyLen {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		apptID = IdempotentAppointmentID(in.PatientID, key)
	}

	if ok, err := s.directory.DoctorExists(ctx, in.DoctorID); err != nil {
		return domain.Appointment{}, err
	} else if !ok {
		return domain.Appointment{}, validationError("doctor not found")
	}
	if ok, err := s.directory.PatientExists(ctx, in.PatientID); err != nil {
		return domain.Appointment{}, err
	} else if !ok {
		return domain.Appointment{}, validationError("patient not found")
	}

	var out domain.Appointment
	replayed := false
	guard := lock.SlotKey(in.DoctorID, window.Start, window.End)
	err = s.run(ctx, "book", guard, func(ctx context.Context, tx store.SchedulingTx) error {
		replayed = false
		if err := tx.LockDoctor(ctx, in.DoctorID); err != nil {
			return err
		}

		if apptID != uuid.Nil {
			existing, err := tx.GetAppointment(ctx, apptID)
			switch {
			case err == nil:
				if !sameBooking(existing, in, window) {
					return validationError(msgIdempotencyMismatch)
				}
				out, replayed = existing, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		live, err := tx.ListLiveAppointmentsOverlapping(ctx, in.DoctorID, window)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			return validationError(msgSlotUnavailable)
		}

		free, err := tx.ListAvailableBlocks(ctx, in.DoctorID, window)
		if err != nil {
			return err
		}
		block, ok := pickBlock(free, window)
		if !ok {
			return validationError(msgSlotUnavailable)
		}

		if err := tx.MarkBlockBooked(ctx, block.ID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return validationError(msgSlotUnavailable)
			}
			return err
		}

		appt := domain.Appointment{
			ID:        apptID,
			DoctorID:  in.DoctorID,
			PatientID: in.PatientID,
			Status:    domain.StatusPending,
			Notes:     in.Notes,
			StartTime: window.Start,
			EndTime:   window.End,
		}
		appt.SetSource(domain.FromBlock{BlockID: block.ID})
		created, err := tx.CreateAppointment(ctx, appt)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return validationError(msgSlotUnavailable)
			}
			return err
		}

		if err := recordEvent(ctx, tx, domain.EventAppointmentBooked, created); err != nil {
			return err
		}
		if err := guardBlock(ctx, tx, block.ID); err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			s.log.InfoContext(ctx, "booking rejected", "doctor_id", in.DoctorID, "patient_id", in.PatientID, "reason", vErr.Error())
		}
		return domain.Appointment{}, err
	}

	if replayed {
		s.log.InfoContext(ctx, "booking replayed", "appointment_id", out.ID)
	} else {
		s.log.InfoContext(ctx, "appointment booked",
			"appointment_id", out.ID, "doctor_id", out.DoctorID, "patient_id", out.PatientID, "block_id", out.BlockID.UUID)
	}
	return out, nil
}

// pickBlock prefers an exact match over the first block containing the window.
// free must be ordered by start.
func pickBlock(free []domain.Block, window domain.TimeWindow) (domain.Block, bool) {
	for _, b := range free {
		if b.Window().Equal(window) {
			return b, true
		}
	}
	for _, b := range free {
		if b.Window().Contains(window) {
			return b, true
		}
	}
	return domain.Block{}, false
}

func sameBooking(a domain.Appointment, in BookInput, window domain.TimeWindow) bool {
	return a.DoctorID == in.DoctorID &&
		a.PatientID == in.PatientID &&
		a.Notes == in.Notes &&
		a.Window().Equal(window)
}

// Cancel is idempotent on canceled appointments and releases the held block.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, "cancel", id, func(a domain.Appointment) (domain.AppointmentStatus, error) {
		switch a.Status {
		case domain.StatusCanceled:
			return "", nil
		case domain.StatusCompleted:
			return "", validationError(msgCancelCompleted)
		}
		return domain.StatusCanceled, nil
	})
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, "confirm", id, func(a domain.Appointment) (domain.AppointmentStatus, error) {
		switch a.Status {
		case domain.StatusCanceled:
			return "", validationError(msgConfirmCanceled)
		case domain.StatusCompleted:
			return "", validationError(msgConfirmCompleted)
		case domain.StatusConfirmed:
			return "", nil
		}
		return domain.StatusConfirmed, nil
	})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, "complete", id, func(a domain.Appointment) (domain.AppointmentStatus, error) {
		if a.Status != domain.StatusConfirmed {
			return "", validationError(msgCompleteNotConfirmed)
		}
		return domain.StatusCompleted, nil
	})
}

var statusEvents = map[domain.AppointmentStatus]domain.EventType{
	domain.StatusConfirmed: domain.EventAppointmentConfirmed,
	domain.StatusCompleted: domain.EventAppointmentCompleted,
	domain.StatusCanceled:  domain.EventAppointmentCanceled,
}

// transition applies the status chosen by decide. An empty status with a nil
// error leaves the appointment untouched.
func (s *Service) transition(ctx context.Context, op string, id uuid.UUID, decide func(domain.Appointment) (domain.AppointmentStatus, error)) (domain.Appointment, error) {
	var out domain.Appointment
	changed := false
	err := s.run(ctx, op, "", func(ctx context.Context, tx store.SchedulingTx) error {
		changed = false
		a, err := lockAppointment(ctx, tx, id)
		if err != nil {
			return err
		}

		next, err := decide(a)
		if err != nil {
			return err
		}
		if next == "" {
			out = a
			return nil
		}
		if !a.Status.CanTransitionTo(next) {
			return validationError(fmt.Sprintf("cannot move appointment from %s to %s", a.Status, next))
		}

		updated, err := tx.UpdateAppointmentStatus(ctx, id, next)
		if err != nil {
			return asNotFound(err, "appointment", id)
		}

		if src, ok := a.Source().(domain.FromBlock); ok && !next.Live() {
			if err := tx.ReleaseBlock(ctx, src.BlockID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err := guardBlock(ctx, tx, src.BlockID); err != nil {
				return err
			}
		}

		if err := recordEvent(ctx, tx, statusEvents[next], updated); err != nil {
			return err
		}
		out, changed = updated, true
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	if changed {
		s.log.InfoContext(ctx, "appointment status changed", "op", op, "appointment_id", id, "status", out.Status)
	}
	return out, nil
}

func lockAppointment(ctx context.Context, tx store.SchedulingTx, id uuid.UUID) (domain.Appointment, error) {
	a, err := tx.GetAppointment(ctx, id)
	if err != nil {
		return domain.Appointment{}, asNotFound(err, "appointment", id)
	}
	if err := tx.LockDoctor(ctx, a.DoctorID); err != nil {
		return domain.Appointment{}, err
	}
	a, err = tx.GetAppointment(ctx, id)
	if err != nil {
		return domain.Appointment{}, asNotFound(err, "appointment", id)
	}
	return a, nil
}

// DeleteAppointment physically removes an appointment, releasing its block first
// when it still held one.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	err := s.run(ctx, "delete_appointment", "", func(ctx context.Context, tx store.SchedulingTx) error {
		a, err := lockAppointment(ctx, tx, id)
		if err != nil {
			return err
		}
		src, fromBlock := a.Source().(domain.FromBlock)
		if fromBlock && a.Status.Live() {
			if err := tx.ReleaseBlock(ctx, src.BlockID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		if err := tx.DeleteAppointment(ctx, id); err != nil {
			return asNotFound(err, "appointment", id)
		}
		if fromBlock {
			if err := guardBlock(ctx, tx, src.BlockID); err != nil {
				return err
			}
		}
		return recordEvent(ctx, tx, domain.EventAppointmentDeleted, a)
	})
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "appointment deleted", "appointment_id", id)
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var out domain.Appointment
	err := s.run(ctx, "get_appointment", "", func(ctx context.Context, tx store.SchedulingTx) error {
		a, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return asNotFound(err, "appointment", id)
		}
		out = a
		return nil
	})
	return out, err
}

// ListForDoctor returns appointments of every status ordered by start. A non-nil
// window keeps only appointments intersecting it.
func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error) {
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	var out []domain.Appointment
	err := s.run(ctx, "list_for_doctor", "", func(ctx context.Context, tx store.SchedulingTx) error {
		rows, err := tx.ListAppointmentsForDoctor(ctx, doctorID, window)
		out = rows
		return err
	})
	return out, err
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error) {
	if err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}
	var out []domain.Appointment
	err := s.run(ctx, "list_for_patient", "", func(ctx context.Context, tx store.SchedulingTx) error {
		rows, err := tx.ListAppointmentsForPatient(ctx, patientID, window)
		out = rows
		return err
	})
	return out, err
}

type eventPayload struct {
	Status    domain.AppointmentStatus `json:"status"`
	PatientID uuid.UUID                `json:"patient_id"`
	BlockID   *uuid.UUID               `json:"block_id,omitempty"`
	Start     time.Time                `json:"start"`
	End       time.Time                `json:"end"`
}

func recordEvent(ctx context.Context, tx store.SchedulingTx, kind domain.EventType, a domain.Appointment) error {
	p := eventPayload{
		Status:    a.Status,
		PatientID: a.PatientID,
		Start:     a.StartTime,
		End:       a.EndTime,
	}
	if src, ok := a.Source().(domain.FromBlock); ok {
		p.BlockID = &src.BlockID
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return tx.InsertEvent(ctx, domain.AppointmentEvent{
		EventType:     kind,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		Payload:       payload,
	})
}
