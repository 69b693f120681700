// Package wire holds the JSON shapes shared by the gRPC and HTTP transports.
// Instants travel as RFC 3339 strings with an explicit offset.
package wire

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/service/scheduling"
)

// InputError is a malformed request field, reported before the service is called.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return e.Field + ": " + e.Reason
}

func ParseID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, &InputError{Field: field, Reason: "is required"}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &InputError{Field: field, Reason: "must be a UUID"}
	}
	return id, nil
}

func ParseTime(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, &InputError{Field: field, Reason: "is required"}
	}
	t, err := domain.ParseInstant(raw)
	if err != nil {
		return time.Time{}, &InputError{Field: field, Reason: err.Error()}
	}
	return t, nil
}

func parseOptionalTime(field string, raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	t, err := ParseTime(field, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseOptionalWindow returns nil when both bounds are empty.
func ParseOptionalWindow(start, end string) (*domain.TimeWindow, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	s, err := ParseTime("start", start)
	if err != nil {
		return nil, err
	}
	e, err := ParseTime("end", end)
	if err != nil {
		return nil, err
	}
	w, err := domain.NewTimeWindow(s, e)
	if err != nil {
		return nil, &InputError{Field: "end", Reason: err.Error()}
	}
	return &w, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

type Block struct {
	ID             string `json:"id"`
	AvailabilityID string `json:"availability_id"`
	DoctorID       string `json:"doctor_id"`
	Start          string `json:"start"`
	End            string `json:"end"`
	IsBooked       bool   `json:"is_booked"`
}

type Availability struct {
	ID       string  `json:"id"`
	DoctorID string  `json:"doctor_id"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Blocks   []Block `json:"blocks"`
}

type Appointment struct {
	ID        string `json:"id"`
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	BlockID   string `json:"block_id,omitempty"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Inconsistency struct {
	Kind           string   `json:"kind"`
	BlockID        string   `json:"block_id"`
	AppointmentIDs []string `json:"appointment_ids"`
}

func FromBlock(b domain.Block) Block {
	return Block{
		ID:             b.ID.String(),
		AvailabilityID: b.AvailabilityID.String(),
		DoctorID:       b.DoctorID.String(),
		Start:          formatTime(b.StartTime),
		End:            formatTime(b.EndTime),
		IsBooked:       b.IsBooked,
	}
}

func FromBlocks(in []domain.Block) []Block {
	out := make([]Block, 0, len(in))
	for _, b := range in {
		out = append(out, FromBlock(b))
	}
	return out
}

func FromAvailability(a domain.Availability) Availability {
	return Availability{
		ID:       a.ID.String(),
		DoctorID: a.DoctorID.String(),
		Start:    formatTime(a.StartTime),
		End:      formatTime(a.EndTime),
		Blocks:   FromBlocks(a.Blocks),
	}
}

func FromAvailabilities(in []domain.Availability) []Availability {
	out := make([]Availability, 0, len(in))
	for _, a := range in {
		out = append(out, FromAvailability(a))
	}
	return out
}

func FromAppointment(a domain.Appointment) Appointment {
	out := Appointment{
		ID:        a.ID.String(),
		DoctorID:  a.DoctorID.String(),
		PatientID: a.PatientID.String(),
		Status:    string(a.Status),
		Notes:     a.Notes,
		Start:     formatTime(a.StartTime),
		End:       formatTime(a.EndTime),
		CreatedAt: formatTime(a.CreatedAt),
		UpdatedAt: formatTime(a.UpdatedAt),
	}
	if src, ok := a.Source().(domain.FromBlock); ok {
		out.BlockID = src.BlockID.String()
	}
	return out
}

func FromAppointments(in []domain.Appointment) []Appointment {
	out := make([]Appointment, 0, len(in))
	for _, a := range in {
		out = append(out, FromAppointment(a))
	}
	return out
}

func FromInconsistencies(in []scheduling.Inconsistency) []Inconsistency {
	out := make([]Inconsistency, 0, len(in))
	for _, i := range in {
		ids := make([]string, 0, len(i.AppointmentIDs))
		for _, id := range i.AppointmentIDs {
			ids = append(ids, id.String())
		}
		out = append(out, Inconsistency{Kind: string(i.Kind), BlockID: i.BlockID.String(), AppointmentIDs: ids})
	}
	return out
}

// Requests.

type CreateAvailabilityRequest struct {
	DoctorID string `json:"doctor_id"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type UpdateAvailabilityRequest struct {
	AvailabilityID string  `json:"availability_id"`
	Start          *string `json:"start,omitempty"`
	End            *string `json:"end,omitempty"`
}

func (r UpdateAvailabilityRequest) Patch() (scheduling.AvailabilityPatch, error) {
	start, err := parseOptionalTime("start", r.Start)
	if err != nil {
		return scheduling.AvailabilityPatch{}, err
	}
	end, err := parseOptionalTime("end", r.End)
	if err != nil {
		return scheduling.AvailabilityPatch{}, err
	}
	return scheduling.AvailabilityPatch{Start: start, End: end}, nil
}

type DoctorRequest struct {
	DoctorID string `json:"doctor_id"`
}

type ListAvailableBlocksRequest struct {
	DoctorID string `json:"doctor_id"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type AvailabilityRequest struct {
	AvailabilityID string `json:"availability_id"`
}

type BlockRequest struct {
	BlockID string `json:"block_id"`
}

type BookRequest struct {
	DoctorID       string `json:"doctor_id"`
	PatientID      string `json:"patient_id"`
	Start          string `json:"start"`
	End            string `json:"end"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (r BookRequest) Input() (scheduling.BookInput, error) {
	doctorID, err := ParseID("doctor_id", r.DoctorID)
	if err != nil {
		return scheduling.BookInput{}, err
	}
	patientID, err := ParseID("patient_id", r.PatientID)
	if err != nil {
		return scheduling.BookInput{}, err
	}
	start, err := ParseTime("start", r.Start)
	if err != nil {
		return scheduling.BookInput{}, err
	}
	end, err := ParseTime("end", r.End)
	if err != nil {
		return scheduling.BookInput{}, err
	}
	return scheduling.BookInput{
		DoctorID:       doctorID,
		PatientID:      patientID,
		Start:          start,
		End:            end,
		Notes:          r.Notes,
		IdempotencyKey: r.IdempotencyKey,
	}, nil
}

type AppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type ListAppointmentsRequest struct {
	DoctorID  string `json:"doctor_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
}

type RecurrenceRule struct {
	Interval int     `json:"interval,omitempty"`
	Weekdays []int16 `json:"weekdays,omitempty"`
	Until    *string `json:"until,omitempty"`
	Count    *int    `json:"count,omitempty"`
	TimeZone string  `json:"time_zone"`
}

type CreateRecurringAvailabilityRequest struct {
	DoctorID string         `json:"doctor_id"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Rule     RecurrenceRule `json:"rule"`
}

func (r CreateRecurringAvailabilityRequest) Input() (scheduling.RecurringAvailabilityInput, error) {
	doctorID, err := ParseID("doctor_id", r.DoctorID)
	if err != nil {
		return scheduling.RecurringAvailabilityInput{}, err
	}
	start, err := ParseTime("start", r.Start)
	if err != nil {
		return scheduling.RecurringAvailabilityInput{}, err
	}
	end, err := ParseTime("end", r.End)
	if err != nil {
		return scheduling.RecurringAvailabilityInput{}, err
	}
	until, err := parseOptionalTime("rule.until", r.Rule.Until)
	if err != nil {
		return scheduling.RecurringAvailabilityInput{}, err
	}
	return scheduling.RecurringAvailabilityInput{
		DoctorID: doctorID,
		Start:    start,
		End:      end,
		Rule: scheduling.RecurrenceRule{
			Interval:  r.Rule.Interval,
			ByWeekday: r.Rule.Weekdays,
			Until:     until,
			Count:     r.Rule.Count,
			TimeZone:  r.Rule.TimeZone,
		},
	}, nil
}

// Replies.

type AvailabilityReply struct {
	Availability Availability `json:"availability"`
}

type AvailabilitiesReply struct {
	Availabilities []Availability `json:"availabilities"`
}

type BlocksReply struct {
	Blocks []Block `json:"blocks"`
}

// DeleteUnbookedBlocksReply carries a nil Availability when the availability was
// removed.
type DeleteUnbookedBlocksReply struct {
	Availability *Availability `json:"availability"`
	Removed      bool          `json:"removed"`
}

type AppointmentReply struct {
	Appointment Appointment `json:"appointment"`
}

type AppointmentsReply struct {
	Appointments []Appointment `json:"appointments"`
}

type ConsistencyReply struct {
	Inconsistencies []Inconsistency `json:"inconsistencies"`
}

type Empty struct{}

// Kind classifies an error for transport status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindRejected
	KindTransient
	KindTimeout
)

func Classify(err error) Kind {
	var (
		iErr *InputError
		nErr *scheduling.NotFoundError
		vErr *scheduling.ValidationError
		tErr *scheduling.TransientError
	)
	switch {
	case errors.As(err, &iErr):
		return KindInvalidInput
	case errors.As(err, &nErr):
		return KindNotFound
	case errors.As(err, &vErr):
		return KindRejected
	case errors.As(err, &tErr):
		return KindTransient
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	}
	return KindInternal
}
