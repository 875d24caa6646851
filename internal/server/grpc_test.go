package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func grpcConn(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(svc.UnaryInterceptor()))
	svc.RegisterGRPC(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCProcessAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	client := NewExtractionClient(grpcConn(t, svc))

	ctx := metadata.AppendToOutgoingContext(context.Background(),
		MetadataSourceName, "notes.txt",
		MetadataOptions, `{"ocr_min_chars": 5}`,
	)
	out, err := client.Process(ctx, wrapperspb.Bytes([]byte(notes)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	fields := out.GetFields()
	if got := fields["source"].GetStringValue(); got != "notes.txt" {
		t.Fatalf("source = %q", got)
	}
	if got := fields["state"].GetStringValue(); got != "COMPLETE" {
		t.Fatalf("state = %q", got)
	}
	pages := fields["pages"].GetListValue().GetValues()
	if len(pages) != 1 {
		t.Fatalf("pages = %d", len(pages))
	}

	id := fields["id"].GetStringValue()
	got, err := client.GetDocument(context.Background(), wrapperspb.String(id))
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.GetFields()["content_hash"].GetStringValue() != fields["content_hash"].GetStringValue() {
		t.Fatal("stored record differs")
	}
}

func TestGRPCErrors(t *testing.T) {
	svc, _ := newTestService(t)
	client := NewExtractionClient(grpcConn(t, svc))

	cases := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"unsupported", func() error {
			ctx := metadata.AppendToOutgoingContext(context.Background(), MetadataSourceName, "blob.bin")
			_, err := client.Process(ctx, wrapperspb.Bytes([]byte("\x00\x01\x02\x03")))
			return err
		}, codes.InvalidArgument},
		{"bad options", func() error {
			ctx := metadata.AppendToOutgoingContext(context.Background(),
				MetadataSourceName, "notes.txt", MetadataOptions, `{"max_concurrency": 0}`)
			_, err := client.Process(ctx, wrapperspb.Bytes([]byte(notes)))
			return err
		}, codes.InvalidArgument},
		{"unknown document", func() error {
			_, err := client.GetDocument(context.Background(), wrapperspb.String("00000000-0000-0000-0000-000000000001"))
			return err
		}, codes.NotFound},
		{"malformed id", func() error {
			_, err := client.GetDocument(context.Background(), wrapperspb.String("nope"))
			return err
		}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(tc.call()); got != tc.want {
				t.Fatalf("code = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	svc, _ := newTestService(t)
	hc := healthpb.NewHealthClient(grpcConn(t, svc))

	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ExtractionServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}
}
