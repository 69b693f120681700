package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"turnoplus/backend/internal/transport/wire"
)

// toStatus maps a service or input error onto a gRPC status and logs it at the
// level its kind deserves.
func toStatus(ctx context.Context, log *slog.Logger, err error, attrs ...any) error {
	args := append([]any{slog.Any("err", err)}, attrs...)
	switch wire.Classify(err) {
	case wire.KindInvalidInput:
		log.WarnContext(ctx, "invalid request", args...)
		return status.Error(codes.InvalidArgument, err.Error())
	case wire.KindNotFound:
		log.InfoContext(ctx, "not found", args...)
		return status.Error(codes.NotFound, err.Error())
	case wire.KindRejected:
		log.InfoContext(ctx, "request rejected", args...)
		return status.Error(codes.FailedPrecondition, err.Error())
	case wire.KindTransient:
		log.WarnContext(ctx, "transient failure", args...)
		return status.Error(codes.Aborted, "storage contention, retry the request")
	case wire.KindTimeout:
		log.WarnContext(ctx, "request timed out", args...)
		return status.FromContextError(err).Err()
	}
	log.ErrorContext(ctx, "request failed", args...)
	return status.Error(codes.Internal, "internal error")
}
