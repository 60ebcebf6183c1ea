// Package stt defines the interface for Speech-to-Text adapters feeding the
// risk session with transcript chunks.
package stt

import (
	"context"
	"fmt"
	"strings"
)

// Callback receives transcript results from the STT provider.
type Callback interface {
	// OnPartial is called when an interim/partial transcript is received.
	OnPartial(text string)

	// OnFinal is called when a final transcript is received.
	OnFinal(text string, confidence float64)

	// OnEndOfUtterance is called when the provider detects the speaker stopped.
	OnEndOfUtterance()

	// OnError is called when an error occurs during transcription.
	OnError(err error)
}

// Adapter defines the interface for STT providers.
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}

// Provider selects where transcripts come from.
type Provider string

const (
	ProviderMock   Provider = "mock"
	ProviderGoogle Provider = "google"
	// ProviderClient means transcripts arrive in-band from the streaming client.
	ProviderClient Provider = "client"
	ProviderNone   Provider = "none"
)

// ParseProvider parses a provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderMock, ProviderGoogle, ProviderClient, ProviderNone:
		return p, nil
	case "":
		return ProviderNone, nil
	default:
		return "", fmt.Errorf("unknown stt provider %q", s)
	}
}

// InBand reports whether the provider produces no adapter and relies on the
// client sending transcripts.
func (p Provider) InBand() bool {
	return p == ProviderClient || p == ProviderNone
}
