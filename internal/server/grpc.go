package server

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

const (
	ExtractionServiceName = "missingtext.v1.Extraction"

	// Metadata keys read by Process.
	MetadataSourceName = "x-source-name"
	MetadataOptions    = "x-options"
	MetadataRequestID  = "x-request-id"
)

// ExtractionServer is the gRPC surface of the pipeline.
type ExtractionServer interface {
	// Process extracts the document in the request bytes. The source name
	// and a JSON options object travel as metadata.
	Process(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error)
	// GetDocument returns a stored record by ID.
	GetDocument(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

// ExtractionServiceDesc describes the service for grpc.Server.RegisterService.
// Messages are well-known types, so no generated code is needed.
var ExtractionServiceDesc = grpc.ServiceDesc{
	ServiceName: ExtractionServiceName,
	HandlerType: (*ExtractionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Process", Handler: processHandler},
		{MethodName: "GetDocument", Handler: getDocumentHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "missingtext/v1/extraction.proto",
}

func processHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractionServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ExtractionServiceName + "/Process"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExtractionServer).Process(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getDocumentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractionServer).GetDocument(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ExtractionServiceName + "/GetDocument"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExtractionServer).GetDocument(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ExtractionClient calls ExtractionServer over a client connection.
type ExtractionClient struct {
	cc grpc.ClientConnInterface
}

func NewExtractionClient(cc grpc.ClientConnInterface) *ExtractionClient {
	return &ExtractionClient{cc: cc}
}

func (c *ExtractionClient) Process(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ExtractionServiceName+"/Process", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExtractionClient) GetDocument(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ExtractionServiceName+"/GetDocument", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// grpcExtraction adapts Service to ExtractionServer.
type grpcExtraction struct {
	svc *Service
}

func (g *grpcExtraction) Process(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	opts, err := g.svc.Options([]byte(first(md, MetadataOptions)))
	if err != nil {
		return nil, common.ToStatus(err)
	}
	rec, err := g.svc.Extract(ctx, in.GetValue(), first(md, MetadataSourceName), opts)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return recordStruct(rec)
}

func (g *grpcExtraction) GetDocument(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	rec, err := g.svc.document(ctx, in.GetValue())
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return recordStruct(rec)
}

// recordStruct converts a record through its JSON form so field names match the HTTP API.
func recordStruct(rec *entity.DocumentRecord) (*structpb.Struct, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, common.InternalErrorf("encode record: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, common.InternalErrorf("encode record: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, common.InternalErrorf("encode record: %v", err)
	}
	return st, nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// RegisterGRPC registers the extraction and health services on gs. The
// returned health server reports NOT_SERVING once the caller shuts down.
func (s *Service) RegisterGRPC(gs *grpc.Server) *health.Server {
	gs.RegisterService(&ExtractionServiceDesc, &grpcExtraction{svc: s})

	hs := health.NewServer()
	serving := healthpb.HealthCheckResponse_SERVING
	if s.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.health(ctx); err != nil {
			s.logger.Warn("grpc.health_failed", "error", err)
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		cancel()
	}
	hs.SetServingStatus("", serving)
	hs.SetServingStatus(ExtractionServiceName, serving)
	healthpb.RegisterHealthServer(gs, hs)
	return hs
}

// UnaryInterceptor attaches a request ID and logger to each call and logs its outcome.
func (s *Service) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if id := first(md, MetadataRequestID); id != "" {
				ctx = common.WithRequestID(ctx, id)
			}
		}
		ctx, requestID := common.EnsureRequestID(ctx)
		log := s.logger.With("request_id", requestID)
		ctx = common.WithLogger(ctx, log)

		resp, err := handler(ctx, req)
		code := codes.OK
		if err != nil {
			code = status.Code(err)
		}
		log.Info("grpc.request",
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}
