package observability

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"voice-risk-service/internal/observability/metrics"
)

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestStreamServerInterceptor_LogsAndRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	m := metrics.NewMetricsWith(prometheus.NewRegistry())

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("content-type", "application/grpc+json"))
	ctx = peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4000}})

	icpt := StreamServerInterceptor(m, logger)
	err := icpt(nil, &fakeStream{ctx: ctx}, &grpc.StreamServerInfo{FullMethod: "/ai.voicerisk.RiskStreamService/StreamCall"},
		func(srv interface{}, ss grpc.ServerStream) error {
			return status.Error(codes.ResourceExhausted, "limit")
		})

	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"code":"ResourceExhausted"`, `"contentType":"application/grpc+json"`, `"peer":"10.0.0.1:4000"`, `"success":false`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %s, got %s", want, out)
		}
	}
}

func TestUnaryServerInterceptor_HealthAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	icpt := UnaryServerInterceptor(logger)
	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: healthMethodPrefix + "Check"},
		func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected successful health check below info level, got %s", buf.String())
	}

	_, err = icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"},
		func(ctx context.Context, req interface{}) (interface{}, error) { return nil, errors.New("boom") })
	if err == nil {
		t.Fatal("expected handler error")
	}
	if !strings.Contains(buf.String(), `"method":"/x.Y/Z"`) {
		t.Errorf("expected unary call logged, got %s", buf.String())
	}
}
