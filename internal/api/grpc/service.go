package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"voice-risk-service/internal/models"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ai.voicerisk.RiskStreamService"

// StreamCallMethod is the full method path of the bidirectional call stream.
const StreamCallMethod = "/" + ServiceName + "/StreamCall"

// StreamRequest is one client message on the call stream. The first message
// opens the session; later messages carry audio, transcript chunks or a
// reset ("mark safe").
type StreamRequest struct {
	SessionID     string           `json:"sessionId,omitempty"`
	TenantID      string           `json:"tenantId,omitempty"`
	Locale        string           `json:"locale,omitempty"`
	SampleRateHz  int              `json:"sampleRateHz,omitempty"`
	Audio         []byte           `json:"audio,omitempty"` // LINEAR16 little-endian mono
	AudioOffsetMs int64            `json:"audioOffsetMs,omitempty"`
	Transcript    *TranscriptChunk `json:"transcript,omitempty"`
	Reset         bool             `json:"reset,omitempty"`
}

// TranscriptChunk is an in-band transcript from a client-side recogniser.
type TranscriptChunk struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// RiskStreamServer is the server API for RiskStreamService.
type RiskStreamServer interface {
	StreamCall(CallServerStream) error
}

// CallServerStream is the server side of StreamCall.
type CallServerStream interface {
	Send(*models.RiskUpdate) error
	Recv() (*StreamRequest, error)
	grpc.ServerStream
}

type callServerStream struct {
	grpc.ServerStream
}

func (x *callServerStream) Send(m *models.RiskUpdate) error {
	return x.ServerStream.SendMsg(m)
}

func (x *callServerStream) Recv() (*StreamRequest, error) {
	m := new(StreamRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func streamCallHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RiskStreamServer).StreamCall(&callServerStream{stream})
}

// RiskStreamServiceDesc describes RiskStreamService for grpc.Server.
var RiskStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RiskStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamCall",
			Handler:       streamCallHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "voicerisk",
}

// CallClientStream is the client side of StreamCall.
type CallClientStream interface {
	Send(*StreamRequest) error
	Recv() (*models.RiskUpdate, error)
	grpc.ClientStream
}

type callClientStream struct {
	grpc.ClientStream
}

func (x *callClientStream) Send(m *StreamRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *callClientStream) Recv() (*models.RiskUpdate, error) {
	m := new(models.RiskUpdate)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamCall opens a call stream on cc using the JSON codec.
func StreamCall(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (CallClientStream, error) {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	stream, err := cc.NewStream(ctx, &RiskStreamServiceDesc.Streams[0], StreamCallMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &callClientStream{stream}, nil
}
