package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EventType string

const (
	EventAppointmentBooked    EventType = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed EventType = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted EventType = "APPOINTMENT_COMPLETED"
	EventAppointmentCanceled  EventType = "APPOINTMENT_CANCELED"
	EventAppointmentDeleted   EventType = "APPOINTMENT_DELETED"
)

// AppointmentEvent is an append-only record of an appointment transition, written in
// the same transaction as the transition itself.
type AppointmentEvent struct {
	bun.BaseModel `bun:"table:appointment_events"`

	ID            int64           `bun:"id,pk,autoincrement"`
	EventType     EventType       `bun:"event_type,notnull"`
	AppointmentID uuid.UUID       `bun:"appointment_id,notnull,type:uuid"`
	DoctorID      uuid.UUID       `bun:"doctor_id,notnull,type:uuid"`
	Payload       json.RawMessage `bun:"payload,type:jsonb"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
}

func (e *AppointmentEvent) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
