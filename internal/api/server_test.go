package api

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/llm-devops/llm-analytics-hub/internal/config"
)

func startServer(t *testing.T) (*Server, *grpc.ClientConn) {
	t.Helper()
	srv, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second}, NewHandlers(&serviceStub{}), nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), srv.GracefulTimeout())
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, conn
}

func TestServerRoundTrip(t *testing.T) {
	_, conn := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{"limit": 1})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := Invoke(ctx, conn, MethodTopModulePatterns, req)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	patterns := resp.GetFields()["patterns"].GetListValue().GetValues()
	if len(patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(patterns))
	}
	if got := patterns[0].GetStructValue().GetFields()["module_a"].GetStringValue(); got != "llm-sentinel" {
		t.Fatalf("unexpected module_a %q", got)
	}
}

func TestServerHealth(t *testing.T) {
	_, conn := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
}

func TestServerAddress(t *testing.T) {
	var s Server
	if s.Address() != "" {
		t.Fatalf("expected empty address for an unbound server")
	}
	if err := s.Start(); err == nil {
		t.Fatalf("expected start to fail for an uninitialised server")
	}
}

func TestServerReflectionDescribesService(t *testing.T) {
	_, conn := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		t.Fatalf("open reflection stream: %v", err)
	}
	defer stream.CloseSend()

	if err := stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{ListServices: ""},
	}); err != nil {
		t.Fatalf("send list services: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	listed := false
	for _, svc := range resp.GetListServicesResponse().GetService() {
		if svc.GetName() == ServiceName {
			listed = true
		}
	}
	if !listed {
		t.Fatalf("%s not listed: %v", ServiceName, resp.GetListServicesResponse())
	}

	if err := stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: ServiceName},
	}); err != nil {
		t.Fatalf("send file containing symbol: %v", err)
	}
	resp, err = stream.Recv()
	if err != nil {
		t.Fatalf("file containing symbol: %v", err)
	}
	if e := resp.GetErrorResponse(); e != nil {
		t.Fatalf("reflection error: %s", e.GetErrorMessage())
	}

	var file *descriptorpb.FileDescriptorProto
	for _, raw := range resp.GetFileDescriptorResponse().GetFileDescriptorProto() {
		fd := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(raw, fd); err != nil {
			t.Fatalf("decode descriptor: %v", err)
		}
		if fd.GetName() == DescriptorPath {
			file = fd
		}
	}
	if file == nil {
		t.Fatalf("descriptor %s not returned", DescriptorPath)
	}
	if len(file.GetService()) != 1 || len(file.GetService()[0].GetMethod()) != len(ServiceDesc.Methods) {
		t.Fatalf("unexpected service descriptor %v", file.GetService())
	}
	for _, m := range file.GetService()[0].GetMethod() {
		if m.GetInputType() != ".google.protobuf.Struct" || m.GetOutputType() != ".google.protobuf.Struct" {
			t.Fatalf("method %s has types %s -> %s", m.GetName(), m.GetInputType(), m.GetOutputType())
		}
	}
}

func TestRegisterDescriptorIsIdempotent(t *testing.T) {
	if err := RegisterDescriptor(); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterDescriptor(); err != nil {
		t.Fatalf("second register: %v", err)
	}
}
