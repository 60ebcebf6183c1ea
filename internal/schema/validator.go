// Package schema validates outbound events before they leave the service.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"voice-risk-service/internal/models"
)

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the invariants of the known event types. Unknown types
// pass through.
func (v *Validator) Validate(event any) error {
	var errs []error

	switch ev := event.(type) {
	case models.RiskStateEvent:
		errs = append(errs, requireType(ev.EventType, models.EventRiskState))
		errs = append(errs, requireSession(ev.SessionID))
		errs = append(errs, requireLocale(ev.Locale))
		errs = append(errs, ev.Risk.Validate())
		if ev.PreviousLabel == ev.Risk.Label {
			errs = append(errs, fmt.Errorf("state event without transition (%s)", ev.Risk.Label))
		}
		if ev.SpoofScore < 0 || ev.SpoofScore > 1 {
			errs = append(errs, fmt.Errorf("spoof score %v out of [0,1]", ev.SpoofScore))
		}
	case models.RiskAlertEvent:
		errs = append(errs, requireType(ev.EventType, models.EventRiskAlert))
		errs = append(errs, requireSession(ev.SessionID))
		errs = append(errs, ev.Risk.Validate())
		if ev.Speech == nil && ev.Notification == nil {
			errs = append(errs, errors.New("alert event carries neither speech nor notification"))
		}
		if ev.Speech != nil && (ev.Speech.Volume < 0 || ev.Speech.Volume > 1) {
			errs = append(errs, fmt.Errorf("speech volume %v out of [0,1]", ev.Speech.Volume))
		}
	case models.RiskUpdate:
		errs = append(errs, requireSession(ev.SessionID))
		errs = append(errs, ev.Risk.Validate())
	default:
		log.Debug().Type("type", event).Msg("No schema for event type")
		return nil
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

func requireType(got, want string) error {
	if got != want {
		return fmt.Errorf("eventType %q, want %q", got, want)
	}
	return nil
}

func requireSession(id string) error {
	if id == "" {
		return errors.New("sessionId is required")
	}
	return nil
}

func requireLocale(l models.Locale) error {
	if !l.IsSupported() {
		return fmt.Errorf("unsupported locale %q", l)
	}
	return nil
}
