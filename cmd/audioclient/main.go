package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "voice-risk-service/internal/api/grpc"
	"voice-risk-service/internal/service/audio"
)

// Stream audio in chunks to simulate real-time streaming
// At 8kHz 16-bit mono = 16000 bytes/second
// 100ms chunks = 1600 bytes
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-8khz.wav", "Path to WAV file (16-bit mono)")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	sessionId := flag.String("session", "test-audio-"+time.Now().Format("150405"), "Session ID")
	tenantId := flag.String("tenant", "tenant-demo", "Tenant ID")
	locale := flag.String("locale", "en-US", "Call locale")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	format, pcm, err := audio.ReadWAV(f)
	if err != nil {
		log.Fatalf("Failed to read WAV: %v", err)
	}
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d",
		format.Channels, format.SampleRateHz, format.BitsPerSample)

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stream, err := grpcapi.StreamCall(ctx, conn)
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
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
				log.Printf("Stream ended: %v", err)
				return
			}
			log.Printf("Risk: score=%d label=%s spoof=%.2f rationale=%q",
				u.Risk.Score, u.Risk.Label, u.Features.SpoofScore, u.Risk.Rationale)
			if u.Notification != nil {
				log.Printf("  notification: %s %s", u.Notification.Title, u.Notification.Body)
			}
			if u.Speech != nil {
				log.Printf("  spoken alert: %q", u.Speech.Text)
			}
		}
	}()

	log.Printf("Streaming audio: sessionId=%s tenantId=%s", *sessionId, *tenantId)

	chunkSize := int(format.SampleRateHz) * 2 * chunkIntervalMs / 1000
	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := io.ReadFull(pcm, chunk)
		if n > 0 {
			chunkNum++
			totalBytes += int64(n)
			req := &grpcapi.StreamRequest{
				Audio:         chunk[:n-n%2],
				AudioOffsetMs: int64(chunkNum * chunkIntervalMs),
			}
			if chunkNum == 1 {
				req.SessionID = *sessionId
				req.TenantID = *tenantId
				req.Locale = *locale
				req.SampleRateHz = int(format.SampleRateHz)
			}
			if err := stream.Send(req); err != nil {
				log.Fatalf("Failed to send frame: %v", err)
			}
			if chunkNum%10 == 0 {
				log.Printf("Sent chunk %d (%d bytes total, offset=%dms)", chunkNum, totalBytes, req.AudioOffsetMs)
			}

			// Simulate real-time streaming
			time.Sleep(chunkIntervalMs * time.Millisecond)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	// Hang up
	if err := stream.CloseSend(); err != nil {
		log.Fatalf("Failed to close stream: %v", err)
	}
	<-done
	log.Printf("Call ended: sessionId=%s", *sessionId)
}
