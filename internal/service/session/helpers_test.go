package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/observability/metrics"
	"voice-risk-service/internal/service/stt"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetricsWith(prometheus.NewRegistry())
}

func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithMetrics(newTestMetrics()),
		WithLogger(zerolog.Nop()),
	}, extra...)
}

func testConfig(id string) Config {
	cfg := DefaultConfig()
	cfg.ID = id
	cfg.TenantID = "tenant-a"
	cfg.Analyser.FFTSize = 256
	cfg.TickInterval = 5 * time.Millisecond
	return cfg
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	states []models.RiskStateEvent
	alerts []models.RiskAlertEvent
}

func (p *fakePublisher) PublishRiskState(ctx context.Context, ev models.RiskStateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, ev)
	return nil
}

func (p *fakePublisher) PublishAlert(ctx context.Context, ev models.RiskAlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, ev)
	return nil
}

func (p *fakePublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states), len(p.alerts)
}

// failingTranscriber never starts.
type failingTranscriber struct{}

func (failingTranscriber) Start(ctx context.Context, cb stt.Callback) error {
	return errors.New("no credentials")
}

func (failingTranscriber) SendAudio(ctx context.Context, audio []byte) error { return nil }

func (failingTranscriber) Close() error { return nil }

func silence(samples int) []byte {
	return make([]byte, samples*2)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
