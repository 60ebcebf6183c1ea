package main

import (
	"context"
	"flag"
	"io"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "voice-risk-service/internal/api/grpc"
)

// Sends a scripted scam call as in-band transcripts with a synthetic tone,
// for servers running with STT_PROVIDER=client.
func main() {
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	locale := flag.String("locale", "en-US", "Call locale")
	flag.Parse()

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := grpcapi.StreamCall(ctx, conn)
	if err != nil {
		log.Fatalf("failed to create stream: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			u, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				log.Printf("stream ended: %v", err)
				return
			}
			log.Printf("Received update: sessionId=%s score=%d label=%s rationale=%q",
				u.SessionID, u.Risk.Score, u.Risk.Label, u.Risk.Rationale)
		}
	}()

	requests := []*grpcapi.StreamRequest{
		{SessionID: "sess-123", TenantID: "tenant-456", Locale: *locale, SampleRateHz: 8000, Audio: tone(1600)},
		{Transcript: &grpcapi.TranscriptChunk{Text: "hello this is your bank"}},
		{Transcript: &grpcapi.TranscriptChunk{Text: "hello this is your bank security team", Final: true}, Audio: tone(1600)},
		{Transcript: &grpcapi.TranscriptChunk{Text: "this is urgent, your account is locked", Final: true}, Audio: tone(1600)},
		{Transcript: &grpcapi.TranscriptChunk{Text: "please read me your one-time code", Final: true}, Audio: tone(1600)},
		{Reset: true},
	}

	for _, req := range requests {
		log.Printf("Sending request: transcript=%v reset=%v audioBytes=%d", req.Transcript != nil, req.Reset, len(req.Audio))
		if err := stream.Send(req); err != nil {
			log.Fatalf("failed to send request: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	if err := stream.CloseSend(); err != nil {
		log.Fatalf("failed to close stream: %v", err)
	}
	<-done
	log.Println("Call ended")
}

// tone returns n bytes of a 440 Hz square wave at 8 kHz.
func tone(n int) []byte {
	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		v := int16(6000)
		if (i/2/9)%2 == 1 {
			v = -6000
		}
		out[i] = byte(v)
		out[i+1] = byte(uint16(v) >> 8)
	}
	return out
}
