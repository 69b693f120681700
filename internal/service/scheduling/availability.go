package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/store"
)

type AvailabilityPatch struct {
	Start *time.Time
	End   *time.Time
}

func asNotFound(err error, resource string, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(resource, id)
	}
	return err
}

func newWindow(start, end time.Time) (domain.TimeWindow, error) {
	w, err := domain.NewTimeWindow(start, end)
	if err != nil {
		return domain.TimeWindow{}, validationError(err.Error())
	}
	return w, nil
}

// lockAvailability loads the availability, takes its doctor's lock and reloads it.
// Under read committed the reload sees every write committed before the lock.
func lockAvailability(ctx context.Context, tx store.SchedulingTx, id uuid.UUID) (domain.Availability, error) {
	av, err := tx.GetAvailability(ctx, id)
	if err != nil {
		return domain.Availability{}, asNotFound(err, "availability", id)
	}
	if err := tx.LockDoctor(ctx, av.DoctorID); err != nil {
		return domain.Availability{}, err
	}
	av, err = tx.GetAvailability(ctx, id)
	if err != nil {
		return domain.Availability{}, asNotFound(err, "availability", id)
	}
	return av, nil
}

func ensureNoOverlap(ctx context.Context, tx store.SchedulingTx, doctorID uuid.UUID, window domain.TimeWindow, self uuid.UUID) error {
	existing, err := tx.ListOverlappingAvailabilities(ctx, doctorID, window)
	if err != nil {
		return err
	}
	for _, av := range existing {
		if av.ID != self {
			return validationError(msgOverlap)
		}
	}
	return nil
}

func (s *Service) CreateAvailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (domain.Availability, error) {
	window, err := newWindow(start, end)
	if err != nil {
		return domain.Availability{}, err
	}
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return domain.Availability{}, err
	}
	d, err := s.blockDuration(ctx)
	if err != nil {
		return domain.Availability{}, err
	}
	if window.Duration() < d {
		return domain.Availability{}, validationError(msgTooShort)
	}

	draft, err := domain.NewAvailability(doctorID, window, d)
	if err != nil {
		return domain.Availability{}, err
	}

	var out domain.Availability
	err = s.run(ctx, "create_availability", "", func(ctx context.Context, tx store.SchedulingTx) error {
		if err := tx.LockDoctor(ctx, doctorID); err != nil {
			return err
		}
		if err := ensureNoOverlap(ctx, tx, doctorID, window, uuid.Nil); err != nil {
			return err
		}
		av, err := tx.CreateAvailability(ctx, draft)
		if err != nil {
			return err
		}
		out = av
		return nil
	})
	if err != nil {
		return domain.Availability{}, err
	}

	s.log.InfoContext(ctx, "availability created",
		"availability_id", out.ID, "doctor_id", doctorID, "blocks", len(out.Blocks))
	return out, nil
}

// UpdateAvailability moves or resizes a window. Booked blocks must stay inside the
// new window and unbooked blocks that fall outside are dropped. Time the old window
// did not cover is tiled with new blocks.
func (s *Service) UpdateAvailability(ctx context.Context, id uuid.UUID, patch AvailabilityPatch) (domain.Availability, error) {
	d, err := s.blockDuration(ctx)
	if err != nil {
		return domain.Availability{}, err
	}

	var out domain.Availability
	err = s.run(ctx, "update_availability", "", func(ctx context.Context, tx store.SchedulingTx) error {
		av, err := lockAvailability(ctx, tx, id)
		if err != nil {
			return err
		}

		start, end := av.StartTime, av.EndTime
		if patch.Start != nil {
			start = *patch.Start
		}
		if patch.End != nil {
			end = *patch.End
		}
		window, err := newWindow(start, end)
		if err != nil {
			return err
		}
		if window.Duration() < d {
			return validationError(msgTooShort)
		}
		if err := ensureNoOverlap(ctx, tx, av.DoctorID, window, av.ID); err != nil {
			return err
		}

		var kept []domain.Block
		var dropped []uuid.UUID
		for _, b := range av.Blocks {
			switch {
			case window.Contains(b.Window()):
				kept = append(kept, b)
			case b.IsBooked:
				return validationError(msgBookedOutsideWindow)
			default:
				dropped = append(dropped, b.ID)
			}
		}

		// Inside the old window the remaining blocks are authoritative, so gaps left
		// by deleted blocks stay empty. Only newly covered time is tiled.
		previous := domain.TimeWindow{Start: av.StartTime, End: av.EndTime}
		var fresh []domain.TimeWindow
		domain.EachBlock(window, d, func(w domain.TimeWindow) bool {
			if w.Overlaps(previous) {
				return true
			}
			for _, b := range kept {
				if b.Window().Overlaps(w) {
					return true
				}
			}
			fresh = append(fresh, w)
			return true
		})
		if len(kept)+len(fresh) == 0 {
			return validationError(msgNoBlocksLeft)
		}
		added, err := domain.NewBlocks(av, fresh)
		if err != nil {
			return err
		}

		if err := tx.DeleteBlocks(ctx, dropped); err != nil {
			return err
		}
		if err := tx.InsertBlocks(ctx, added); err != nil {
			return err
		}
		if err := tx.UpdateAvailabilityWindow(ctx, av.ID, window); err != nil {
			return asNotFound(err, "availability", id)
		}

		out, err = tx.GetAvailability(ctx, av.ID)
		return err
	})
	if err != nil {
		return domain.Availability{}, err
	}

	s.log.InfoContext(ctx, "availability updated", "availability_id", id, "blocks", len(out.Blocks))
	return out, nil
}

func (s *Service) GetAvailability(ctx context.Context, id uuid.UUID) (domain.Availability, error) {
	var out domain.Availability
	err := s.run(ctx, "get_availability", "", func(ctx context.Context, tx store.SchedulingTx) error {
		av, err := tx.GetAvailability(ctx, id)
		if err != nil {
			return asNotFound(err, "availability", id)
		}
		out = av
		return nil
	})
	return out, err
}

func (s *Service) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.Availability, error) {
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	var out []domain.Availability
	err := s.run(ctx, "list_availability", "", func(ctx context.Context, tx store.SchedulingTx) error {
		rows, err := tx.ListAvailabilities(ctx, doctorID)
		out = rows
		return err
	})
	return out, err
}

func (s *Service) ListAvailableBlocks(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]domain.Block, error) {
	window, err := newWindow(start, end)
	if err != nil {
		return nil, err
	}
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	var out []domain.Block
	err = s.run(ctx, "list_available_blocks", "", func(ctx context.Context, tx store.SchedulingTx) error {
		rows, err := tx.ListAvailableBlocks(ctx, doctorID, window)
		out = rows
		return err
	})
	return out, err
}

func (s *Service) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	err := s.run(ctx, "delete_availability", "", func(ctx context.Context, tx store.SchedulingTx) error {
		av, err := lockAvailability(ctx, tx, id)
		if err != nil {
			return err
		}
		if av.HasBookedBlocks() {
			return validationError(msgAvailabilityBooked)
		}
		return asNotFound(tx.DeleteAvailability(ctx, id), "availability", id)
	})
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "availability deleted", "availability_id", id)
	return nil
}

// DeleteUnbookedBlocks removes every unbooked block of the availability. It returns
// nil when nothing is left and the availability itself was removed.
func (s *Service) DeleteUnbookedBlocks(ctx context.Context, id uuid.UUID) (*domain.Availability, error) {
	var out *domain.Availability
	err := s.run(ctx, "delete_unbooked_blocks", "", func(ctx context.Context, tx store.SchedulingTx) error {
		out = nil
		av, err := lockAvailability(ctx, tx, id)
		if err != nil {
			return err
		}

		var free []uuid.UUID
		for _, b := range av.Blocks {
			if !b.IsBooked {
				free = append(free, b.ID)
			}
		}
		if err := tx.DeleteBlocks(ctx, free); err != nil {
			return err
		}
		if len(free) == len(av.Blocks) {
			return tx.DeleteAvailability(ctx, id)
		}

		shrunk, err := tx.GetAvailability(ctx, id)
		if err != nil {
			return err
		}
		out = &shrunk
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "unbooked blocks deleted", "availability_id", id, "availability_removed", out == nil)
	return out, nil
}

// DeleteBlock removes a single unbooked block, and its availability when that was
// the last block.
func (s *Service) DeleteBlock(ctx context.Context, blockID uuid.UUID) error {
	err := s.run(ctx, "delete_block", "", func(ctx context.Context, tx store.SchedulingTx) error {
		b, err := tx.GetBlock(ctx, blockID)
		if err != nil {
			return asNotFound(err, "block", blockID)
		}
		if err := tx.LockDoctor(ctx, b.DoctorID); err != nil {
			return err
		}
		b, err = tx.GetBlock(ctx, blockID)
		if err != nil {
			return asNotFound(err, "block", blockID)
		}
		if b.IsBooked {
			return validationError(msgBlockBooked)
		}
		if err := tx.DeleteBlocks(ctx, []uuid.UUID{blockID}); err != nil {
			return err
		}

		av, err := tx.GetAvailability(ctx, b.AvailabilityID)
		if err != nil {
			return err
		}
		if len(av.Blocks) == 0 {
			return tx.DeleteAvailability(ctx, av.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "block deleted", "block_id", blockID)
	return nil
}
