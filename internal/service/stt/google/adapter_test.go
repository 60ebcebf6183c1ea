package google

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-risk-service/internal/models"
)

type recordingCallback struct {
	partials []string
	finals   []string
	eou      int
	errs     int
}

func (c *recordingCallback) OnPartial(text string)             { c.partials = append(c.partials, text) }
func (c *recordingCallback) OnFinal(text string, conf float64) { c.finals = append(c.finals, text) }
func (c *recordingCallback) OnEndOfUtterance()                 { c.eou++ }
func (c *recordingCallback) OnError(err error)                 { c.errs++ }

// fakeStream is a recognition stream whose Recv fails with recvErr, or
// blocks until CloseSend and then reports io.EOF.
type fakeStream struct {
	grpc.ClientStream

	recvErr error

	mu        sync.Mutex
	sending   bool
	overlap   bool
	sent      int
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream(recvErr error) *fakeStream {
	return &fakeStream{recvErr: recvErr, closed: make(chan struct{})}
}

func (f *fakeStream) Send(*speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	f.sending = true
	f.mu.Unlock()

	time.Sleep(100 * time.Microsecond)

	f.mu.Lock()
	f.sending = false
	f.sent++
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	if f.sending {
		f.overlap = true
	}
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	<-f.closed
	return nil, io.EOF
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfig_ForLocale(t *testing.T) {
	tests := []struct {
		locale models.Locale
		want   string
	}{
		{models.LocaleEsES, "es-ES"},
		{models.LocaleFrFR, "fr-FR"},
		{"de-DE", "en-US"},
	}

	for _, tt := range tests {
		t.Run(string(tt.locale), func(t *testing.T) {
			cfg := DefaultConfig().ForLocale(tt.locale)
			if cfg.LanguageCode != tt.want {
				t.Errorf("expected language %q, got %q", tt.want, cfg.LanguageCode)
			}
			if cfg.SampleRateHz != 8000 {
				t.Errorf("expected other fields kept, got sample rate %d", cfg.SampleRateHz)
			}
		})
	}
}

func TestConfig_StreamingConfig(t *testing.T) {
	cfg := Config{LanguageCode: "fr-FR", SampleRateHz: 16000, InterimResults: true, AudioEncoding: "MULAW"}

	sc := cfg.streamingConfig().GetStreamingConfig()
	if sc == nil {
		t.Fatal("expected streaming config request")
	}
	if sc.GetConfig().GetLanguageCode() != "fr-FR" {
		t.Errorf("expected language fr-FR, got %s", sc.GetConfig().GetLanguageCode())
	}
	if sc.GetConfig().GetEncoding() != speechpb.RecognitionConfig_MULAW {
		t.Errorf("expected MULAW, got %v", sc.GetConfig().GetEncoding())
	}
	if sc.GetConfig().GetSampleRateHertz() != 16000 {
		t.Errorf("expected 16000 Hz, got %d", sc.GetConfig().GetSampleRateHertz())
	}
	if !sc.GetInterimResults() {
		t.Error("expected interim results enabled")
	}
}

func TestDispatch(t *testing.T) {
	cb := &recordingCallback{}
	resp := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "read me"}}},
			{Alternatives: nil},
			{IsFinal: true, Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "read me your code", Confidence: 0.9}}},
		},
		SpeechEventType: speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE,
	}

	dispatch(resp, cb)

	if len(cb.partials) != 1 || cb.partials[0] != "read me" {
		t.Errorf("expected one partial 'read me', got %v", cb.partials)
	}
	if len(cb.finals) != 1 || cb.finals[0] != "read me your code" {
		t.Errorf("expected one final, got %v", cb.finals)
	}
	if cb.eou != 1 {
		t.Errorf("expected end of utterance, got %d", cb.eou)
	}
}

func TestConfig_CustomValues(t *testing.T) {
	cfg := Config{
		LanguageCode:   "es-ES",
		SampleRateHz:   16000,
		InterimResults: false,
		AudioEncoding:  "MULAW",
	}

	if cfg.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != false {
		t.Errorf("expected interim results false, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "MULAW" {
		t.Errorf("expected encoding 'MULAW', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding_CaseSensitive(t *testing.T) {
	// Encoding strings should be uppercase
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"Linear16", speechpb.RecognitionConfig_LINEAR16}, // mixed case -> fallback
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16}, // uppercase -> match
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAdapter_ListenErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		closed   bool
		expected int
	}{
		{"end of stream", io.EOF, false, 0},
		{"stream context cancelled", status.Error(codes.Canceled, "context canceled"), false, 0},
		{"wrapped context cancel", fmt.Errorf("recv: %w", context.Canceled), false, 0},
		{"provider failure", status.Error(codes.Unavailable, "backend down"), false, 1},
		{"failure after close", status.Error(codes.Unavailable, "backend down"), true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := &recordingCallback{}
			a := &Adapter{stream: newFakeStream(tt.err), cb: cb, closed: tt.closed, done: make(chan struct{})}

			a.listen()

			if cb.errs != tt.expected {
				t.Errorf("expected %d OnError calls, got %d", tt.expected, cb.errs)
			}
			select {
			case <-a.done:
			default:
				t.Error("expected done to be closed when listen returns")
			}
		})
	}
}

func TestAdapter_CloseWaitsForSend(t *testing.T) {
	stream := newFakeStream(nil)
	a := &Adapter{stream: stream, cb: &recordingCallback{}, done: make(chan struct{})}
	go a.listen()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := a.SendAudio(context.Background(), []byte{0, 0}); err != nil {
					t.Errorf("unexpected send error: %v", err)
					return
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	wg.Wait()

	stream.mu.Lock()
	overlap, sentAtClose := stream.overlap, stream.sent
	stream.mu.Unlock()
	if overlap {
		t.Error("expected CloseSend never to run during Send")
	}

	if err := a.SendAudio(context.Background(), []byte{0, 0}); err != nil {
		t.Errorf("expected send after close to be a no-op, got %v", err)
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.sent != sentAtClose {
		t.Errorf("expected no sends after close, got %d more", stream.sent-sentAtClose)
	}
}
