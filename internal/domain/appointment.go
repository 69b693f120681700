package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCanceled  AppointmentStatus = "canceled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Live reports whether the appointment still holds its slot.
func (s AppointmentStatus) Live() bool {
	return s != StatusCanceled
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCanceled},
	StatusConfirmed: {StatusCompleted, StatusCanceled},
}

func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Source says where an appointment's time came from.
type Source interface {
	isSource()
}

// FromBlock is an appointment holding a generated block.
type FromBlock struct {
	BlockID uuid.UUID
}

// Manual is an appointment inserted without a block (legacy or administrative rows).
type Manual struct{}

func (FromBlock) isSource() {}
func (Manual) isSource()    {}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID        uuid.UUID         `bun:"id,pk,type:uuid"`
	DoctorID  uuid.UUID         `bun:"doctor_id,notnull,type:uuid"`
	PatientID uuid.UUID         `bun:"patient_id,notnull,type:uuid"`
	BlockID   uuid.NullUUID     `bun:"block_id,type:uuid"`
	Status    AppointmentStatus `bun:"status,notnull"`
	Notes     string            `bun:"notes"`
	StartTime time.Time         `bun:"start_time,notnull"`
	EndTime   time.Time         `bun:"end_time,notnull"`
	CreatedAt time.Time         `bun:"created_at,notnull"`
	UpdatedAt time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
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

func (a Appointment) Source() Source {
	if a.BlockID.Valid {
		return FromBlock{BlockID: a.BlockID.UUID}
	}
	return Manual{}
}

func (a *Appointment) SetSource(src Source) {
	switch s := src.(type) {
	case FromBlock:
		a.BlockID = uuid.NullUUID{UUID: s.BlockID, Valid: true}
	default:
		a.BlockID = uuid.NullUUID{}
	}
}

func (a Appointment) Window() TimeWindow {
	return TimeWindow{Start: a.StartTime, End: a.EndTime}
}
