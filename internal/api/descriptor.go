package api

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// DescriptorPath names the proto file that declares ServiceName. It is built
// at runtime so server reflection can describe the service without generated
// code.
const DescriptorPath = "llmanalytics/v1/analytics_hub.proto"

var methodNames = []string{
	MethodMetricStats,
	MethodRecentAnomalies,
	MethodCorrelationGraph,
	MethodModuleCorrelation,
	MethodPredict,
	MethodTopModulePatterns,
	MethodAdapterHealth,
	MethodStats,
}

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterDescriptor adds the service file to the global proto registry.
func RegisterDescriptor() error {
	registerOnce.Do(func() {
		if _, err := protoregistry.GlobalFiles.FindFileByPath(DescriptorPath); err == nil {
			return
		}
		fd, err := serviceFile()
		if err != nil {
			registerErr = fmt.Errorf("build %s: %w", DescriptorPath, err)
			return
		}
		registerErr = protoregistry.GlobalFiles.RegisterFile(fd)
	})
	return registerErr
}

// serviceFile declares every method as Struct in, Struct out.
func serviceFile() (protoreflect.FileDescriptor, error) {
	structType := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())
	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("AnalyticsHub")}
	for _, name := range methodNames {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}
	file := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(DescriptorPath),
		Package:    proto.String("llmanalytics.v1"),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{svc},
		Syntax:     proto.String("proto3"),
	}
	return protodesc.NewFile(file, protoregistry.GlobalFiles)
}
