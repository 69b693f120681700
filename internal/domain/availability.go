package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Availability is a doctor-declared free window and the container of the blocks
// generated from it. Once blocks have been removed, Blocks is authoritative and
// [StartTime, EndTime) only records the declared bounds.
type Availability struct {
	bun.BaseModel `bun:"table:availabilities"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	DoctorID  uuid.UUID `bun:"doctor_id,notnull,type:uuid"`
	StartTime time.Time `bun:"start_time,notnull"`
	EndTime   time.Time `bun:"end_time,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`

	Blocks []Block `bun:"rel:has-many,join:id=availability_id"`
}

func (a *Availability) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a Availability) Window() TimeWindow {
	return TimeWindow{Start: a.StartTime, End: a.EndTime}
}

func (a Availability) HasBookedBlocks() bool {
	for _, b := range a.Blocks {
		if b.IsBooked {
			return true
		}
	}
	return false
}

// SortBlocks orders the block list by start time.
func (a *Availability) SortBlocks() {
	sort.Slice(a.Blocks, func(i, j int) bool {
		return a.Blocks[i].StartTime.Before(a.Blocks[j].StartTime)
	})
}

// Block is one fixed-duration bookable slot. IsBooked mirrors the existence of a
// live appointment referencing it.
type Block struct {
	bun.BaseModel `bun:"table:appointment_blocks"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	AvailabilityID uuid.UUID `bun:"availability_id,notnull,type:uuid"`
	DoctorID       uuid.UUID `bun:"doctor_id,notnull,type:uuid"`
	StartTime      time.Time `bun:"start_time,notnull"`
	EndTime        time.Time `bun:"end_time,notnull"`
	IsBooked       bool      `bun:"is_booked,notnull,default:false"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func (b *Block) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b Block) Window() TimeWindow {
	return TimeWindow{Start: b.StartTime, End: b.EndTime}
}

// NewAvailability builds an unsaved availability with its blocks tiled from window.
func NewAvailability(doctorID uuid.UUID, window TimeWindow, blockDuration time.Duration) (Availability, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Availability{}, err
	}
	av := Availability{
		ID:        id,
		DoctorID:  doctorID,
		StartTime: window.Start,
		EndTime:   window.End,
	}
	blocks, err := NewBlocks(av, GenerateBlocks(window, blockDuration))
	if err != nil {
		return Availability{}, err
	}
	av.Blocks = blocks
	return av, nil
}

// NewBlocks builds unsaved blocks for the given availability.
func NewBlocks(av Availability, windows []TimeWindow) ([]Block, error) {
	out := make([]Block, 0, len(windows))
	for _, w := range windows {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		out = append(out, Block{
			ID:             id,
			AvailabilityID: av.ID,
			DoctorID:       av.DoctorID,
			StartTime:      w.Start,
			EndTime:        w.End,
		})
	}
	return out, nil
}
