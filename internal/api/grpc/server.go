// Package grpcapi exposes call sessions over a bidirectional gRPC stream.
package grpcapi

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-risk-service/internal/app"
	"voice-risk-service/internal/observability/logging"
	"voice-risk-service/internal/service/acoustic"
	"voice-risk-service/internal/service/audio"
	"voice-risk-service/internal/service/session"
)

// errClientDone signals that the client half-closed the stream.
var errClientDone = errors.New("client closed stream")

type Server struct {
	app *app.Application
	log zerolog.Logger
}

// Register adds RiskStreamService to g.
func Register(g *grpc.Server, application *app.Application) *Server {
	s := &Server{
		app: application,
		log: logging.WithComponent("grpc"),
	}
	g.RegisterService(&RiskStreamServiceDesc, s)
	return s
}

// StreamCall runs one call: the first request opens the session, every
// request feeds it, and every emitted risk update is sent back. Closing the
// stream hangs up the call.
func (s *Server) StreamCall(stream CallServerStream) error {
	ctx := stream.Context()

	first, err := stream.Recv()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.app.Ready() {
		return status.Error(codes.Unavailable, "service not ready")
	}

	sess, err := s.app.OpenSession(ctx, app.SessionRequest{
		SessionID:    first.SessionID,
		TenantID:     first.TenantID,
		Locale:       first.Locale,
		SampleRateHz: first.SampleRateHz,
	})
	if sess == nil {
		return toStatus(err)
	}
	defer s.app.CloseSession(sess)

	log := s.log.With().
		Str("sessionId", sess.ID()).
		Str("tenantId", first.TenantID).
		Logger()
	if err != nil {
		log.Warn().Err(err).Msg("Call running without transcripts")
	}

	updates, cancel := sess.Subscribe()
	defer cancel()

	// The opening snapshot tells the client which session ID was assigned.
	initial := sess.Snapshot()
	if err := stream.Send(&initial); err != nil {
		return err
	}

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- s.receive(ctx, sess, first, stream)
	}()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				log.Info().Msg("Session ended, closing call stream")
				return nil
			}
			if err := stream.Send(&u); err != nil {
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, errClientDone) {
				last := sess.Snapshot()
				log.Info().
					Dict("risk", logging.Risk(last.Risk)).
					Msg("Call stream closed by client")
				return nil
			}
			log.Warn().Err(err).Msg("Call stream ended with error")
			return toStatus(err)
		}
	}
}

// receive feeds client requests into the session until the client
// half-closes or a request fails.
func (s *Server) receive(ctx context.Context, sess *session.Session, first *StreamRequest, stream CallServerStream) error {
	req := first
	for {
		if err := s.handle(ctx, sess, req); err != nil {
			return err
		}
		var err error
		req, err = stream.Recv()
		if err == io.EOF {
			return errClientDone
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, sess *session.Session, req *StreamRequest) error {
	if req.Reset {
		if err := sess.Reset(ctx); err != nil {
			return err
		}
	}
	if len(req.Audio) > 0 {
		if err := sess.PushAudio(ctx, req.Audio); err != nil {
			return err
		}
	}
	// An empty interim withdraws the previous one; an empty final is a no-op.
	if t := req.Transcript; t != nil && (t.Text != "" || !t.Final) {
		if err := sess.PushTranscript(ctx, t.Text, t.Final); err != nil {
			return err
		}
	}
	return nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, audio.ErrOddPCM), errors.Is(err, acoustic.ErrMalformedFrame):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, audio.ErrLimitExceeded):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, session.ErrDuplicateSession):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, session.ErrCaptureUnavailable),
		errors.Is(err, session.ErrSessionStopped),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrSessionActive):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
