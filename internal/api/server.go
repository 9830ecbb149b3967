package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/llm-devops/llm-analytics-hub/internal/config"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "llmanalytics.v1.AnalyticsHub"

// Method names on ServiceName.
const (
	MethodMetricStats       = "GetMetricStats"
	MethodRecentAnomalies   = "RecentAnomalies"
	MethodCorrelationGraph  = "GetCorrelationGraph"
	MethodModuleCorrelation = "GetModuleCorrelation"
	MethodPredict           = "Predict"
	MethodTopModulePatterns = "TopModulePatterns"
	MethodAdapterHealth     = "AdapterHealth"
	MethodStats             = "GetStats"
)

// AnalyticsHubServer is the server side of ServiceName. Requests and
// responses are google.protobuf.Struct so no generated stubs are needed.
type AnalyticsHubServer interface {
	GetMetricStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecentAnomalies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCorrelationGraph(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetModuleCorrelation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TopModulePatterns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdapterHealth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AnalyticsHubServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AnalyticsHubServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AnalyticsHubServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes ServiceName for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalyticsHubServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodMetricStats, AnalyticsHubServer.GetMetricStats),
		unaryMethod(MethodRecentAnomalies, AnalyticsHubServer.RecentAnomalies),
		unaryMethod(MethodCorrelationGraph, AnalyticsHubServer.GetCorrelationGraph),
		unaryMethod(MethodModuleCorrelation, AnalyticsHubServer.GetModuleCorrelation),
		unaryMethod(MethodPredict, AnalyticsHubServer.Predict),
		unaryMethod(MethodTopModulePatterns, AnalyticsHubServer.TopModulePatterns),
		unaryMethod(MethodAdapterHealth, AnalyticsHubServer.AdapterHealth),
		unaryMethod(MethodStats, AnalyticsHubServer.GetStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: DescriptorPath,
}

// FullMethod returns the invocation path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Invoke calls method on conn.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Server wraps the gRPC server implementation and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	grpcServer *grpc.Server
	listener   net.Listener
	health     *health.Server
}

// NewServer constructs a gRPC server bound to the configured address.
func NewServer(cfg config.ServerConfig, service AnalyticsHubServer, logger *slog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := RegisterDescriptor(); err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor, loggingInterceptor(logger)),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	grpcServer.RegisterService(&ServiceDesc, service)
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	reflection.Register(grpcServer)

	return &Server{
		cfg:        cfg,
		grpcServer: grpcServer,
		listener:   lis,
		health:     healthSrv,
	}, nil
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc handled",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(started)),
		)
		return resp, err
	}
}

// Start serves incoming gRPC requests until Stop/Shutdown is invoked.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// Shutdown marks the service not serving, then attempts a graceful stop,
// falling back to Stop when ctx ends.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
