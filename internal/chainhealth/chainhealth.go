// Package chainhealth publishes the audit chain's verification state over the
// standard gRPC health protocol, so orchestrators and grpcurl can probe it.
package chainhealth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/openfilz/openfilz-core-sub000/internal/auditchain"
)

// ServiceName is the health service name reporting chain integrity.
const ServiceName = "openfilz.audit.v1.AuditChain"

// Reporter maps verification results onto health serving states.
// The overall server status ("") tracks process liveness; ServiceName tracks
// chain integrity.
type Reporter struct {
	srv    *health.Server
	logger *zap.Logger
}

// NewReporter creates a Reporter. The chain starts as SERVING until the first
// verification says otherwise.
func NewReporter(logger *zap.Logger) *Reporter {
	srv := health.NewServer()
	srv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	srv.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return &Reporter{srv: srv, logger: logger}
}

// Observe updates the chain status from a verification result. It matches
// auditchain.Observer.
func (r *Reporter) Observe(res *auditchain.VerificationResult) {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	if !res.Valid() {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	r.srv.SetServingStatus(ServiceName, st)
	r.logger.Debug("chain health updated", zap.String("status", st.String()))
}

// Server returns the underlying health server.
func (r *Reporter) Server() *health.Server { return r.srv }

// Shutdown marks every service NOT_SERVING ahead of process exit.
func (r *Reporter) Shutdown() { r.srv.Shutdown() }

// NewGRPCServer builds a gRPC server exposing the health service and reflection.
func NewGRPCServer(logger *zap.Logger, r *Reporter) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)
	grpc_health_v1.RegisterHealthServer(s, r.srv)

	// gRPC reflection (for grpcurl and Evans)
	reflection.Register(s)
	return s
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
