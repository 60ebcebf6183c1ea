package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"voice-risk-service/internal/app"
	"voice-risk-service/internal/config"
	"voice-risk-service/internal/models"
	"voice-risk-service/internal/service/audio"
	"voice-risk-service/internal/service/session"
)

func newTestApp(t *testing.T) *app.Application {
	t.Helper()
	cfg := config.Load()
	cfg.STT.Provider = "client"
	cfg.Kafka.Enabled = false
	cfg.Risk.PatternsFile = ""
	cfg.Risk.Locale = "en-US"
	cfg.Risk.FFTSize = 256
	cfg.Risk.TickInterval = 5 * time.Millisecond

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("app.Start: %v", err)
	}
	t.Cleanup(a.Shutdown)
	return a
}

func dial(t *testing.T, a *app.Application) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, a)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// recvUntil reads updates until match returns true.
func recvUntil(t *testing.T, stream CallClientStream, match func(*models.RiskUpdate) bool) *models.RiskUpdate {
	t.Helper()
	type result struct {
		u   *models.RiskUpdate
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			u, err := stream.Recv()
			if err != nil {
				ch <- result{err: err}
				return
			}
			if match(u) {
				ch <- result{u: u}
				return
			}
		}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("recv: %v", r.err)
		}
		return r.u
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for update")
		return nil
	}
}

func TestStreamCall_TranscriptEscalates(t *testing.T) {
	a := newTestApp(t)
	conn := dial(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := StreamCall(ctx, conn)
	if err != nil {
		t.Fatalf("StreamCall: %v", err)
	}

	if err := stream.Send(&StreamRequest{SessionID: "call-1", TenantID: "acme", Locale: "en-US"}); err != nil {
		t.Fatalf("send open: %v", err)
	}
	initial := recvUntil(t, stream, func(*models.RiskUpdate) bool { return true })
	if initial.SessionID != "call-1" {
		t.Errorf("expected session id 'call-1', got %s", initial.SessionID)
	}
	if initial.Risk.Label != models.LabelSafe {
		t.Errorf("expected initial Safe, got %s", initial.Risk.Label)
	}

	err = stream.Send(&StreamRequest{Transcript: &TranscriptChunk{Text: "please read me your one-time code", Final: true}})
	if err != nil {
		t.Fatalf("send transcript: %v", err)
	}
	u := recvUntil(t, stream, func(u *models.RiskUpdate) bool { return u.Risk.Label != models.LabelSafe })
	if u.Risk.Score != 63 || u.Risk.Label != models.LabelSuspicious {
		t.Errorf("expected 63 Suspicious, got %+v", u.Risk)
	}
	if u.Notification == nil {
		t.Error("expected escalation notification")
	}

	if err := stream.Send(&StreamRequest{Reset: true}); err != nil {
		t.Fatalf("send reset: %v", err)
	}
	sess, err := a.Sessions.Get("call-1")
	if err != nil {
		t.Fatalf("expected live session: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for sess.Snapshot().Risk.Score != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sess.Snapshot().Risk; got.Score != 0 || got.Label != models.LabelSafe {
		t.Errorf("expected Safe after reset, got %+v", got)
	}

	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if err != io.EOF {
				t.Errorf("expected io.EOF after hang-up, got %v", err)
			}
			break
		}
	}
	if a.Sessions.Len() != 0 {
		t.Errorf("expected session removed after hang-up, got %d live", a.Sessions.Len())
	}
}

func TestStreamCall_EmptyInterimWithdrawsCue(t *testing.T) {
	a := newTestApp(t)
	conn := dial(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := StreamCall(ctx, conn)
	if err != nil {
		t.Fatalf("StreamCall: %v", err)
	}

	if err := stream.Send(&StreamRequest{SessionID: "call-2", TenantID: "acme", Locale: "en-US"}); err != nil {
		t.Fatalf("send open: %v", err)
	}
	recvUntil(t, stream, func(*models.RiskUpdate) bool { return true })

	if err := stream.Send(&StreamRequest{Transcript: &TranscriptChunk{Text: "please read me your one-time code"}}); err != nil {
		t.Fatalf("send interim: %v", err)
	}
	u := recvUntil(t, stream, func(u *models.RiskUpdate) bool { return u.Risk.Label != models.LabelSafe })
	if u.Risk.Score != 63 {
		t.Errorf("expected 63 from interim cue, got %d", u.Risk.Score)
	}

	if err := stream.Send(&StreamRequest{Transcript: &TranscriptChunk{}}); err != nil {
		t.Fatalf("send empty interim: %v", err)
	}
	u = recvUntil(t, stream, func(u *models.RiskUpdate) bool { return u.Risk.Label == models.LabelSafe })
	if u.Risk.Score != 0 {
		t.Errorf("expected 0 once the interim is withdrawn, got %d", u.Risk.Score)
	}

	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
}

func TestStreamCall_OddAudioIsInvalidArgument(t *testing.T) {
	a := newTestApp(t)
	conn := dial(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := StreamCall(ctx, conn)
	if err != nil {
		t.Fatalf("StreamCall: %v", err)
	}
	if err := stream.Send(&StreamRequest{SessionID: "call-odd", Audio: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for {
		_, err := stream.Recv()
		if err == nil {
			continue
		}
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("expected InvalidArgument, got %v", err)
		}
		break
	}
}

func TestStreamCall_NotReady(t *testing.T) {
	a := newTestApp(t)
	conn := dial(t, a)
	a.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := StreamCall(ctx, conn)
	if err != nil {
		t.Fatalf("StreamCall: %v", err)
	}
	if err := stream.Send(&StreamRequest{SessionID: "late"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := stream.Recv(); status.Code(err) != codes.Unavailable {
		t.Errorf("expected Unavailable, got %v", err)
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("chunk: %w", audio.ErrOddPCM), codes.InvalidArgument},
		{&audio.LimitError{Type: "bytes"}, codes.ResourceExhausted},
		{session.ErrDuplicateSession, codes.AlreadyExists},
		{session.ErrSessionStopped, codes.FailedPrecondition},
		{fmt.Errorf("build: %w", session.ErrCaptureUnavailable), codes.FailedPrecondition},
		{context.Canceled, codes.Canceled},
		{status.Error(codes.Unauthenticated, "x"), codes.Unauthenticated},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := status.Code(toStatus(tt.err)); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	if toStatus(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	c := jsonCodec{}
	if c.Name() != "json" {
		t.Errorf("expected codec name 'json', got %s", c.Name())
	}

	in := &StreamRequest{SessionID: "s", Audio: []byte{0, 1}, Transcript: &TranscriptChunk{Text: "hi", Final: true}}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out StreamRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.SessionID != "s" || len(out.Audio) != 2 || out.Transcript == nil || !out.Transcript.Final {
		t.Errorf("expected request to survive the codec, got %+v", out)
	}
}
