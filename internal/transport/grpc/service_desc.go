package grpc

import (
	"context"

	"google.golang.org/grpc"

	"turnoplus/backend/internal/transport/wire"
)

const ServiceName = "turnoplus.scheduling.v1.Scheduling"

// SchedulingServer is the server side of turnoplus.scheduling.v1.Scheduling.
// Messages are the JSON shapes in package wire.
type SchedulingServer interface {
	CreateAvailability(context.Context, *wire.CreateAvailabilityRequest) (*wire.AvailabilityReply, error)
	CreateRecurringAvailability(context.Context, *wire.CreateRecurringAvailabilityRequest) (*wire.AvailabilitiesReply, error)
	UpdateAvailability(context.Context, *wire.UpdateAvailabilityRequest) (*wire.AvailabilityReply, error)
	GetAvailability(context.Context, *wire.AvailabilityRequest) (*wire.AvailabilityReply, error)
	ListAvailability(context.Context, *wire.DoctorRequest) (*wire.AvailabilitiesReply, error)
	ListAvailableBlocks(context.Context, *wire.ListAvailableBlocksRequest) (*wire.BlocksReply, error)
	DeleteAvailability(context.Context, *wire.AvailabilityRequest) (*wire.Empty, error)
	DeleteUnbookedBlocks(context.Context, *wire.AvailabilityRequest) (*wire.DeleteUnbookedBlocksReply, error)
	DeleteBlock(context.Context, *wire.BlockRequest) (*wire.Empty, error)

	Book(context.Context, *wire.BookRequest) (*wire.AppointmentReply, error)
	Cancel(context.Context, *wire.AppointmentRequest) (*wire.AppointmentReply, error)
	Confirm(context.Context, *wire.AppointmentRequest) (*wire.AppointmentReply, error)
	Complete(context.Context, *wire.AppointmentRequest) (*wire.AppointmentReply, error)
	GetAppointment(context.Context, *wire.AppointmentRequest) (*wire.AppointmentReply, error)
	DeleteAppointment(context.Context, *wire.AppointmentRequest) (*wire.Empty, error)
	ListForDoctor(context.Context, *wire.ListAppointmentsRequest) (*wire.AppointmentsReply, error)
	ListForPatient(context.Context, *wire.ListAppointmentsRequest) (*wire.AppointmentsReply, error)

	CheckConsistency(context.Context, *wire.DoctorRequest) (*wire.ConsistencyReply, error)
	RepairConsistency(context.Context, *wire.DoctorRequest) (*wire.ConsistencyReply, error)
}

func unary[Req, Resp any](name string, call func(SchedulingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SchedulingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SchedulingServer), ctx, req.(*Req))
			})
		},
	}
}

var schedulingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateAvailability", SchedulingServer.CreateAvailability),
		unary("CreateRecurringAvailability", SchedulingServer.CreateRecurringAvailability),
		unary("UpdateAvailability", SchedulingServer.UpdateAvailability),
		unary("GetAvailability", SchedulingServer.GetAvailability),
		unary("ListAvailability", SchedulingServer.ListAvailability),
		unary("ListAvailableBlocks", SchedulingServer.ListAvailableBlocks),
		unary("DeleteAvailability", SchedulingServer.DeleteAvailability),
		unary("DeleteUnbookedBlocks", SchedulingServer.DeleteUnbookedBlocks),
		unary("DeleteBlock", SchedulingServer.DeleteBlock),
		unary("Book", SchedulingServer.Book),
		unary("Cancel", SchedulingServer.Cancel),
		unary("Confirm", SchedulingServer.Confirm),
		unary("Complete", SchedulingServer.Complete),
		unary("GetAppointment", SchedulingServer.GetAppointment),
		unary("DeleteAppointment", SchedulingServer.DeleteAppointment),
		unary("ListForDoctor", SchedulingServer.ListForDoctor),
		unary("ListForPatient", SchedulingServer.ListForPatient),
		unary("CheckConsistency", SchedulingServer.CheckConsistency),
		unary("RepairConsistency", SchedulingServer.RepairConsistency),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "turnoplus/scheduling/v1/scheduling.json",
}

func RegisterSchedulingServer(s grpc.ServiceRegistrar, srv SchedulingServer) {
	s.RegisterService(&schedulingServiceDesc, srv)
}

// FullMethod returns the invocation path of a method on the scheduling service.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
