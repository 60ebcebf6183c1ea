package session

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if lc.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", lc.State())
	}
	if lc.SessionId() != "sess-1" {
		t.Errorf("expected sess-1, got %v", lc.SessionId())
	}
	if lc.IsActive() {
		t.Error("expected IsActive to be false")
	}
	if err := lc.Check(); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestLifecycle_Start(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if err := lc.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.State() != StateActive {
		t.Errorf("expected StateActive, got %v", lc.State())
	}
	if err := lc.Check(); err != nil {
		t.Errorf("expected active session to accept signals, got %v", err)
	}
}

func TestLifecycle_Start_OnlyOnce(t *testing.T) {
	lc := NewLifecycle("sess-1")
	lc.Start()

	if err := lc.Start(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestLifecycle_Stop(t *testing.T) {
	lc := NewLifecycle("sess-1")
	lc.Start()

	if !lc.Stop() {
		t.Error("expected first Stop to transition")
	}
	if lc.Stop() {
		t.Error("expected second Stop to be a no-op")
	}
	if lc.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", lc.State())
	}
	if err := lc.Start(); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("expected ErrSessionStopped, got %v", err)
	}
	if err := lc.Check(); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("expected ErrSessionStopped, got %v", err)
	}
}

func TestLifecycle_StopBeforeStart(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if !lc.Stop() {
		t.Error("expected Stop from IDLE to transition")
	}
	if err := lc.Start(); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("expected ErrSessionStopped, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateActive, "ACTIVE"},
		{StateStopped, "STOPPED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, got)
		}
	}
}

func TestLifecycle_ConcurrentStart(t *testing.T) {
	lc := NewLifecycle("sess-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.Start() == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if started != 1 {
		t.Errorf("expected exactly one successful Start, got %d", started)
	}
}
