package grpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/service/scheduling"
	"turnoplus/backend/internal/transport/wire"
)

type schedulingService interface {
	CreateAvailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (domain.Availability, error)
	CreateRecurringAvailability(ctx context.Context, in scheduling.RecurringAvailabilityInput) ([]domain.Availability, error)
	UpdateAvailability(ctx context.Context, id uuid.UUID, patch scheduling.AvailabilityPatch) (domain.Availability, error)
	GetAvailability(ctx context.Context, id uuid.UUID) (domain.Availability, error)
	ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.Availability, error)
	ListAvailableBlocks(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]domain.Block, error)
	DeleteAvailability(ctx context.Context, id uuid.UUID) error
	DeleteUnbookedBlocks(ctx context.Context, id uuid.UUID) (*domain.Availability, error)
	DeleteBlock(ctx context.Context, blockID uuid.UUID) error

	Book(ctx context.Context, in scheduling.BookInput) (domain.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error)

	CheckConsistency(ctx context.Context, doctorID uuid.UUID) ([]scheduling.Inconsistency, error)
	RepairConsistency(ctx context.Context, doctorID uuid.UUID) ([]scheduling.Inconsistency, error)
}

type Server struct {
	svc schedulingService
	log *slog.Logger
}

var _ SchedulingServer = (*Server)(nil)

func NewServer(svc schedulingService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc: svc,
		log: log.With(slog.String("component", "grpc.scheduling")),
	}
}

func (s *Server) rpc(name string) *slog.Logger {
	return s.log.With(slog.String("rpc", name))
}

func (s *Server) CreateAvailability(ctx context.Context, req *wire.CreateAvailabilityRequest) (*wire.AvailabilityReply, error) {
	log := s.rpc("CreateAvailability")
	doctorID, err := wire.ParseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	start, err := wire.ParseTime("start", req.Start)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	end, err := wire.ParseTime("end", req.End)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}

	av, err := s.svc.CreateAvailability(ctx, doctorID, start, end)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("doctor_id", doctorID.String()))
	}
	return &wire.AvailabilityReply{Availability: wire.FromAvailability(av)}, nil
}

func (s *Server) CreateRecurringAvailability(ctx context.Context, req *wire.CreateRecurringAvailabilityRequest) (*wire.AvailabilitiesReply, error) {
	log := s.rpc("CreateRecurringAvailability")
	in, err := req.Input()
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	out, err := s.svc.CreateRecurringAvailability(ctx, in)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("doctor_id", in.DoctorID.String()))
	}
	return &wire.AvailabilitiesReply{Availabilities: wire.FromAvailabilities(out)}, nil
}

func (s *Server) UpdateAvailability(ctx context.Context, req *wire.UpdateAvailabilityRequest) (*wire.AvailabilityReply, error) {
	log := s.rpc("UpdateAvailability")
	id, err := wire.ParseID("availability_id", req.AvailabilityID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	patch, err := req.Patch()
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	av, err := s.svc.UpdateAvailability(ctx, id, patch)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("availability_id", id.String()))
	}
	return &wire.AvailabilityReply{Availability: wire.FromAvailability(av)}, nil
}

func (s *Server) GetAvailability(ctx context.Context, req *wire.AvailabilityRequest) (*wire.AvailabilityReply, error) {
	log := s.rpc("GetAvailability")
	id, err := wire.ParseID("availability_id", req.AvailabilityID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	av, err := s.svc.GetAvailability(ctx, id)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("availability_id", id.String()))
	}
	return &wire.AvailabilityReply{Availability: wire.FromAvailability(av)}, nil
}

func (s *Server) ListAvailability(ctx context.Context, req *wire.DoctorRequest) (*wire.AvailabilitiesReply, error) {
	log := s.rpc("ListAvailability")
	doctorID, err := wire.ParseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	out, err := s.svc.ListAvailability(ctx, doctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("doctor_id", doctorID.String()))
	}
	log.Debug("availability listed", slog.String("doctor_id", doctorID.String()), slog.Int("count", len(out)))
	return &wire.AvailabilitiesReply{Availabilities: wire.FromAvailabilities(out)}, nil
}

func (s *Server) ListAvailableBlocks(ctx context.Context, req *wire.ListAvailableBlocksRequest) (*wire.BlocksReply, error) {
	log := s.rpc("ListAvailableBlocks")
	doctorID, err := wire.ParseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	start, err := wire.ParseTime("start", req.Start)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	end, err := wire.ParseTime("end", req.End)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	out, err := s.svc.ListAvailableBlocks(ctx, doctorID, start, end)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("doctor_id", doctorID.String()))
	}
	return &wire.BlocksReply{Blocks: wire.FromBlocks(out)}, nil
}

func (s *Server) DeleteAvailability(ctx context.Context, req *wire.AvailabilityRequest) (*wire.Empty, error) {
	log := s.rpc("DeleteAvailability")
	id, err := wire.ParseID("availability_id", req.AvailabilityID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	if err := s.svc.DeleteAvailability(ctx, id); err != nil {
		return nil, toStatus(ctx, log, err, slog.String("availability_id", id.String()))
	}
	return &wire.Empty{}, nil
}

func (s *Server) DeleteUnbookedBlocks(ctx context.Context, req *wire.AvailabilityRequest) (*wire.DeleteUnbookedBlocksReply, error) {
	log := s.rpc("DeleteUnbookedBlocks")
	id, err := wire.ParseID("availability_id", req.AvailabilityID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	av, err := s.svc.DeleteUnbookedBlocks(ctx, id)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("availability_id", id.String()))
	}
	if av == nil {
		return &wire.DeleteUnbookedBlocksReply{Removed: true}, nil
	}
	out := wire.FromAvailability(*av)
	return &wire.DeleteUnbookedBlocksReply{Availability: &out}, nil
}

func (s *Server) DeleteBlock(ctx context.Context, req *wire.BlockRequest) (*wire.Empty, error) {
	log := s.rpc("DeleteBlock")
	id, err := wire.ParseID("block_id", req.BlockID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	if err := s.svc.DeleteBlock(ctx, id); err != nil {
		return nil, toStatus(ctx, log, err, slog.String("block_id", id.String()))
	}
	return &wire.Empty{}, nil
}

func (s *Server) Book(ctx context.Context, req *wire.BookRequest) (*wire.AppointmentReply, error) {
	log := s.rpc("Book")
	in, err := req.Input()
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = idempotencyKey(ctx)
	}
	appt, err := s.svc.Book(ctx, in)
	if err != nil {
		return nil, toStatus(ctx, log, err,
			slog.String("doctor_id", in.DoctorID.String()),
			slog.String("patient_id", in.PatientID.String()),
			slog.Time("start", in.Start),
			slog.Time("end", in.End))
	}
	return &wire.AppointmentReply{Appointment: wire.FromAppointment(appt)}, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

type appointmentCall func(ctx context.Context, id uuid.UUID) (domain.Appointment, error)

func (s *Server) appointmentRPC(ctx context.Context, name string, req *wire.AppointmentRequest, call appointmentCall) (*wire.AppointmentReply, error) {
	log := s.rpc(name)
	id, err := wire.ParseID("appointment_id", req.AppointmentID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	appt, err := call(ctx, id)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("appointment_id", id.String()))
	}
	return &wire.AppointmentReply{Appointment: wire.FromAppointment(appt)}, nil
}

func (s *Server) Cancel(ctx context.Context, req *wire.AppointmentRequest) (*wire.AppointmentReply, error) {
	return s.appointmentRPC(ctx, "Cancel", req, s.svc.Cancel)
}

func (s *Server) Confirm(ctx context.Context, req *wire.AppointmentRequest) (*wire.AppointmentReply, error) {
	return s.appointmentRPC(ctx, "Confirm", req, s.svc.Confirm)
}

func (s *Server) Complete(ctx context.Context, req *wire.AppointmentRequest) (*wire.AppointmentReply, error) {
	return s.appointmentRPC(ctx, "Complete", req, s.svc.Complete)
}

func (s *Server) GetAppointment(ctx context.Context, req *wire.AppointmentRequest) (*wire.AppointmentReply, error) {
	return s.appointmentRPC(ctx, "GetAppointment", req, s.svc.GetAppointment)
}

func (s *Server) DeleteAppointment(ctx context.Context, req *wire.AppointmentRequest) (*wire.Empty, error) {
	log := s.rpc("DeleteAppointment")
	id, err := wire.ParseID("appointment_id", req.AppointmentID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	if err := s.svc.DeleteAppointment(ctx, id); err != nil {
		return nil, toStatus(ctx, log, err, slog.String("appointment_id", id.String()))
	}
	return &wire.Empty{}, nil
}

func (s *Server) ListForDoctor(ctx context.Context, req *wire.ListAppointmentsRequest) (*wire.AppointmentsReply, error) {
	log := s.rpc("ListForDoctor")
	doctorID, err := wire.ParseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	window, err := wire.ParseOptionalWindow(req.Start, req.End)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	out, err := s.svc.ListForDoctor(ctx, doctorID, window)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("doctor_id", doctorID.String()))
	}
	return &wire.AppointmentsReply{Appointments: wire.FromAppointments(out)}, nil
}

func (s *Server) ListForPatient(ctx context.Context, req *wire.ListAppointmentsRequest) (*wire.AppointmentsReply, error) {
	log := s.rpc("ListForPatient")
	patientID, err := wire.ParseID("patient_id", req.PatientID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	window, err := wire.ParseOptionalWindow(req.Start, req.End)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	out, err := s.svc.ListForPatient(ctx, patientID, window)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("patient_id", patientID.String()))
	}
	return &wire.AppointmentsReply{Appointments: wire.FromAppointments(out)}, nil
}

func (s *Server) CheckConsistency(ctx context.Context, req *wire.DoctorRequest) (*wire.ConsistencyReply, error) {
	log := s.rpc("CheckConsistency")
	doctorID, err := wire.ParseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	out, err := s.svc.CheckConsistency(ctx, doctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("doctor_id", doctorID.String()))
	}
	return &wire.ConsistencyReply{Inconsistencies: wire.FromInconsistencies(out)}, nil
}

func (s *Server) RepairConsistency(ctx context.Context, req *wire.DoctorRequest) (*wire.ConsistencyReply, error) {
	log := s.rpc("RepairConsistency")
	doctorID, err := wire.ParseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err)
	}
	out, err := s.svc.RepairConsistency(ctx, doctorID)
	if err != nil {
		return nil, toStatus(ctx, log, err, slog.String("doctor_id", doctorID.String()))
	}
	return &wire.ConsistencyReply{Inconsistencies: wire.FromInconsistencies(out)}, nil
}
