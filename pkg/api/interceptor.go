package api

import (
	"context"
	"time"

	"github.com/cuemby/dynadns/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs every unary call at debug level with its status
// code and duration.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(info.FullMethod, start, err)
		return resp, err
	}
}

// StreamLoggingInterceptor is LoggingInterceptor for streams such as
// health Watch; the call is logged when the stream ends.
func StreamLoggingInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(info.FullMethod, start, err)
		return err
	}
}

func logCall(method string, start time.Time, err error) {
	logger := log.WithComponent("grpc")
	logger.Debug().
		Str("method", method).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("gRPC call")
}
